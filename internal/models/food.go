package models

// FavoriteFood is a frequency-ranked reference entry. Frequency is bumped
// by the caller on each use; reads come back in descending-frequency order
// so the most used foods surface first.
type FavoriteFood struct {
	ID         string  `db:"id" json:"id"`
	UserID     string  `db:"user_id" json:"user_id"`
	Name       string  `db:"name" json:"name"`
	Calories   float64 `db:"calories" json:"calories"`
	Protein    float64 `db:"protein" json:"protein"`
	Carbs      float64 `db:"carbs" json:"carbs"`
	Fat        float64 `db:"fat" json:"fat"`
	Frequency  int     `db:"frequency" json:"frequency"`
	LastUsedAt int64   `db:"last_used_at" json:"last_used_at"`
}

// TableName returns the table name for FavoriteFood.
func (FavoriteFood) TableName() string {
	return "favorite_foods"
}

package models

import "time"

// CachedMeal is a local mirror of a remote nutrition record, kept for
// offline reads. It carries no sync state and is never replayed to the
// backend; population and invalidation are wholesale upserts.
type CachedMeal struct {
	ID       string  `db:"id" json:"id"`
	UserID   string  `db:"user_id" json:"user_id"`
	Date     string  `db:"date" json:"date"` // YYYY-MM-DD
	MealSlot string  `db:"meal_slot" json:"meal_slot"`
	Name     string  `db:"name" json:"name"`
	Quantity float64 `db:"quantity" json:"quantity"`
	Unit     string  `db:"unit" json:"unit"`
	Calories float64 `db:"calories" json:"calories"`
	Protein  float64 `db:"protein" json:"protein"`
	Carbs    float64 `db:"carbs" json:"carbs"`
	Fat      float64 `db:"fat" json:"fat"`
	LoggedAt int64   `db:"logged_at" json:"logged_at"`
}

// TableName returns the table name for CachedMeal.
func (CachedMeal) TableName() string {
	return "cached_meals"
}

// LoggedAtTime returns LoggedAt as time.Time.
func (m *CachedMeal) LoggedAtTime() time.Time {
	return time.Unix(m.LoggedAt, 0)
}

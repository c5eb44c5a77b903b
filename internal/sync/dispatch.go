package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/platesync/core/internal/models"
)

// syncEntry replays one queue entry through the remote write path for its
// type. For photo uploads the minted signed URL is returned so it can be
// logged; by the time background sync runs, no caller is waiting for it.
func (c *Coordinator) syncEntry(ctx context.Context, entry *models.QueueEntry) (string, error) {
	switch entry.Type {
	case models.EntryMealLog:
		var payload models.MealLogPayload
		if err := entry.DecodePayload(&payload); err != nil {
			return "", fmt.Errorf("decode meal log payload: %w", err)
		}
		return "", c.remote.InsertRecord(ctx, TableMealLogs, mealLogRow(payload))

	case models.EntryPhotoUpload:
		var payload models.PhotoUploadPayload
		if err := entry.DecodePayload(&payload); err != nil {
			return "", fmt.Errorf("decode photo payload: %w", err)
		}
		return c.deliverPhoto(ctx, payload, entry.CreatedAt)

	case models.EntryUserAction:
		var payload models.UserActionPayload
		if err := entry.DecodePayload(&payload); err != nil {
			return "", fmt.Errorf("decode user action payload: %w", err)
		}
		return "", c.applyUserAction(ctx, payload)

	default:
		return "", fmt.Errorf("no dispatch strategy for entry type %q", entry.Type)
	}
}

// deliverPhoto uploads the decoded image and mints a 24h signed URL for it.
func (c *Coordinator) deliverPhoto(ctx context.Context, payload models.PhotoUploadPayload, createdAt int64) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return "", fmt.Errorf("photo payload is not valid base64: %w", err)
	}

	path := fmt.Sprintf("%s/%d_%s", payload.UserID, createdAt, payload.FileName)
	handle, err := c.remote.UploadBlob(ctx, c.photoBucket, path, data, payload.ContentType)
	if err != nil {
		return "", err
	}
	return c.remote.CreateSignedURL(ctx, handle, SignedURLTTL)
}

// applyUserAction maps a recorded action name to the remote update it
// stands for. Unrecognized actions are dropped as no-op successes since
// retrying them would loop forever.
func (c *Coordinator) applyUserAction(ctx context.Context, payload models.UserActionPayload) error {
	switch payload.Action {
	case ActionUpdateProfile:
		return c.remote.UpdateRecord(ctx, TableProfiles,
			map[string]string{"id": payload.UserID}, payload.Patch)
	case ActionUpdatePreferences:
		return c.remote.UpdateRecord(ctx, TablePreferences,
			map[string]string{"user_id": payload.UserID}, payload.Patch)
	default:
		c.logger.Warn("unrecognized user action, dropping",
			zap.String("action", payload.Action),
			zap.String("user_id", payload.UserID))
		return nil
	}
}

// mealLogRow flattens a meal payload into the remote table row shape.
func mealLogRow(p models.MealLogPayload) map[string]any {
	return map[string]any{
		"user_id":   p.UserID,
		"date":      p.Date,
		"meal_slot": p.MealSlot,
		"name":      p.Name,
		"quantity":  p.Quantity,
		"unit":      p.Unit,
		"calories":  p.Calories,
		"protein":   p.Protein,
		"carbs":     p.Carbs,
		"fat":       p.Fat,
	}
}

// =====================================================
// Write-path helpers
// =====================================================
//
// Each helper tries the remote directly when online and falls back to the
// queue on any failure, so a user write never fails outright because of
// connectivity. It degrades to "saved, will sync later".

// QueueMealLog writes a meal log, immediately when possible. It returns the
// queue entry id when the write was deferred, or "" when it was delivered.
func (c *Coordinator) QueueMealLog(ctx context.Context, payload models.MealLogPayload) (string, error) {
	if c.IsOnline() {
		attemptCtx, cancel := context.WithTimeout(ctx, c.entryTimeout)
		err := c.remote.InsertRecord(attemptCtx, TableMealLogs, mealLogRow(payload))
		cancel()
		if err == nil {
			c.logger.Debug("meal log written directly", zap.String("user_id", payload.UserID))
			return "", nil
		}
		c.logger.Warn("direct meal write failed, queueing", zap.Error(err))
	}

	id, err := c.store.Enqueue(ctx, models.EntryMealLog, payload)
	if err != nil {
		return "", err
	}
	c.logger.Info("meal log queued", zap.String("id", id))
	return id, nil
}

// QueuePhotoUpload uploads a photo, immediately when possible. On a direct
// upload it returns the signed URL; on fallback it enqueues, kicks an
// opportunistic sync and returns the entry id with no URL, since none
// exists yet.
func (c *Coordinator) QueuePhotoUpload(ctx context.Context, payload models.PhotoUploadPayload) (signedURL, entryID string, err error) {
	if c.IsOnline() {
		attemptCtx, cancel := context.WithTimeout(ctx, c.entryTimeout)
		url, uploadErr := c.deliverPhoto(attemptCtx, payload, time.Now().UnixMilli())
		cancel()
		if uploadErr == nil {
			c.logger.Debug("photo uploaded directly", zap.String("file", payload.FileName))
			return url, "", nil
		}
		c.logger.Warn("direct photo upload failed, queueing", zap.Error(uploadErr))
	}

	id, err := c.store.Enqueue(ctx, models.EntryPhotoUpload, payload)
	if err != nil {
		return "", "", err
	}
	c.logger.Info("photo upload queued", zap.String("id", id))
	c.spawnSync()
	return "", id, nil
}

// QueueUserAction records a generic user action, applying it immediately
// when possible. It returns the queue entry id when the action was
// deferred, or "" when it was applied.
func (c *Coordinator) QueueUserAction(ctx context.Context, name string, patch map[string]any, userID string) (string, error) {
	payload := models.UserActionPayload{UserID: userID, Action: name, Patch: patch}

	if c.IsOnline() {
		attemptCtx, cancel := context.WithTimeout(ctx, c.entryTimeout)
		err := c.applyUserAction(attemptCtx, payload)
		cancel()
		if err == nil {
			c.logger.Debug("user action applied directly", zap.String("action", name))
			return "", nil
		}
		c.logger.Warn("direct user action failed, queueing",
			zap.String("action", name), zap.Error(err))
	}

	id, err := c.store.Enqueue(ctx, models.EntryUserAction, payload)
	if err != nil {
		return "", err
	}
	c.logger.Info("user action queued", zap.String("id", id), zap.String("action", name))
	c.spawnSync()
	return id, nil
}

package journal

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"vert/internal/conversion"
	"vert/internal/manager"
	"vert/internal/media"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const entryColumns = "id, kind, input_path, output_path, target_format, source_format, options_json, state, message, created_at, updated_at, removed_at"

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func (j *Journal) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = j.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		id           string
		kind         string
		inputPath    string
		outputPath   string
		targetFormat string
		sourceFormat sql.NullString
		optionsJSON  sql.NullString
		state        string
		message      sql.NullString
		createdRaw   string
		updatedRaw   string
		removedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&kind,
		&inputPath,
		&outputPath,
		&targetFormat,
		&sourceFormat,
		&optionsJSON,
		&state,
		&message,
		&createdRaw,
		&updatedRaw,
		&removedRaw,
	); err != nil {
		return nil, err
	}

	entry := &Entry{
		Task: conversion.Task{
			ID:           id,
			Kind:         media.Kind(kind),
			InputPath:    inputPath,
			OutputPath:   outputPath,
			TargetFormat: media.Format(targetFormat),
			SourceFormat: media.Format(sourceFormat.String),
		},
		State:   manager.State(state),
		Message: message.String,
	}
	if optionsJSON.Valid {
		opts, err := conversion.UnmarshalOptions([]byte(optionsJSON.String))
		if err != nil {
			return nil, err
		}
		entry.Task.Options = opts
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		entry.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		entry.UpdatedAt = updated
	}
	if removedRaw.Valid {
		if removed, err := parseTimeString(removedRaw.String); err == nil {
			entry.RemovedAt = &removed
		}
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

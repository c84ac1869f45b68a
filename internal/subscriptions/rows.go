package subscriptions

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"flexsync/internal/storage"
)

func subscriptionToRow(sub Subscription) storage.SubRow {
	row := storage.SubRow{
		ID:          sub.ID.String(),
		CreatedAt:   sub.CreatedAt.UnixMilli(),
		UpdatedAt:   sub.UpdatedAt.UnixMilli(),
		ObjectClass: sub.ObjectClassName,
		Query:       sub.QueryString,
	}
	if sub.Name != nil {
		row.Name = sql.NullString{String: *sub.Name, Valid: true}
	}
	return row
}

func subscriptionFromRow(row storage.SubRow) Subscription {
	sub := Subscription{
		CreatedAt:       time.UnixMilli(row.CreatedAt),
		UpdatedAt:       time.UnixMilli(row.UpdatedAt),
		ObjectClassName: row.ObjectClass,
		QueryString:     row.Query,
	}
	if id, err := uuid.Parse(row.ID); err == nil {
		sub.ID = id
	}
	if row.Name.Valid {
		name := row.Name.String
		sub.Name = &name
	}
	return sub
}

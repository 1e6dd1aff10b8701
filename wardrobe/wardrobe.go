// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package wardrobe stores the wardrobe items of users
package wardrobe

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/csql"
)

// Item is one piece of clothing
type Item struct {
	ItemName string    `json:"item_name"`
	Category string    `json:"category,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// Tables creates the wardrobe_items relation. It references users, so it must run after account.Tables.
func Tables(db *csql.DB) string {
	return `CREATE TABLE IF NOT EXISTS ` + db.Table("wardrobe_items") + `
(id SERIAL PRIMARY KEY,
user_id INTEGER NOT NULL REFERENCES ` + db.Table("users") + `(id) ON DELETE CASCADE,
item_name VARCHAR(255) NOT NULL,
category VARCHAR(255),
image_url TEXT,
added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
}

// Repository stores wardrobe items in postgres
type Repository struct {
	db *csql.DB
}

// NewRepository returns a repository for db
func NewRepository(db *csql.DB) *Repository {
	return &Repository{db: db}
}

// List returns the items of user in the order they were saved
func (r *Repository) List(ctx context.Context, userID int64) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT item_name, category, image_url, added_at FROM "+r.db.Table("wardrobe_items")+
			" WHERE user_id = $1 ORDER BY id;", userID)
	if err != nil {
		return nil, core.Query("wardrobe_items", core.OperationList, err)
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var (
			item               Item
			category, imageURL sql.NullString
		)
		if err := rows.Scan(&item.ItemName, &category, &imageURL, &item.AddedAt); err != nil {
			return nil, core.Query("wardrobe_items", core.OperationList, err)
		}
		item.Category = category.String
		item.ImageURL = imageURL.String
		items = append(items, item)
	}
	return items, core.Query("wardrobe_items", core.OperationList, rows.Err())
}

// Validate checks that every item has a name
func Validate(items []Item) error {
	for i, item := range items {
		if strings.TrimSpace(item.ItemName) == "" {
			return core.Validation("item_name", "item %d has no name", i)
		}
	}
	return nil
}

// Replace replaces all items of user. Either all items are stored or none.
func (r *Repository) Replace(ctx context.Context, userID int64, items []Item) error {
	if err := Validate(items); err != nil {
		return err
	}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+r.db.Table("wardrobe_items")+" WHERE user_id = $1;", userID); err != nil {
			return err
		}
		for _, item := range items {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO "+r.db.Table("wardrobe_items")+" (user_id, item_name, category, image_url) VALUES ($1, $2, $3, $4);",
				userID, item.ItemName,
				sql.NullString{String: item.Category, Valid: item.Category != ""},
				sql.NullString{String: item.ImageURL, Valid: item.ImageURL != ""})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return core.Query("wardrobe_items", core.OperationUpdate, err)
}

package folio

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
)

func (c *Core) ensureTag(ctx context.Context, r runner, userID, name string) (int64, error) {
	if _, err := r.exec(ctx, `
		INSERT INTO tags (user_id, name) VALUES (?, ?)
		ON CONFLICT (user_id, name) DO NOTHING
	`, userID, name); err != nil {
		return 0, err
	}
	var id int64
	err := r.queryRow(ctx, "SELECT id FROM tags WHERE user_id = ? AND name = ?", userID, name).Scan(&id)
	return id, err
}

// AddTagToAsset labels an asset for the user, creating the tag when new.
func (c *Core) AddTagToAsset(ctx context.Context, userID string, assetID int64, tagName string) (*Tag, error) {
	tagName = strings.TrimSpace(tagName)
	if userID == "" {
		return nil, validationError("user_id required")
	}
	if tagName == "" {
		return nil, validationError("tag name required")
	}
	if _, err := c.GetAsset(ctx, assetID); err != nil {
		return nil, err
	}

	var tag Tag
	err := c.inTx(ctx, func(r runner) error {
		id, err := c.ensureTag(ctx, r, userID, tagName)
		if err != nil {
			return err
		}
		_, err = r.exec(ctx, `
			INSERT INTO asset_tags (asset_id, tag_id, user_id) VALUES (?, ?, ?)
			ON CONFLICT (asset_id, tag_id, user_id) DO NOTHING
		`, assetID, id, userID)
		tag = Tag{ID: id, UserID: userID, Name: tagName}
		return err
	})
	if err != nil {
		return nil, dbError("add tag", err)
	}
	return &tag, nil
}

// RemoveTagFromAsset detaches a tag from an asset for the user.
func (c *Core) RemoveTagFromAsset(ctx context.Context, userID string, assetID, tagID int64) error {
	_, err := c.run().exec(ctx, "DELETE FROM asset_tags WHERE asset_id = ? AND tag_id = ? AND user_id = ?", assetID, tagID, userID)
	return dbError("remove tag", err)
}

// ListTags returns the user's tags ordered by name.
func (c *Core) ListTags(ctx context.Context, userID string) ([]Tag, error) {
	rows, err := c.run().query(ctx, "SELECT id, user_id, name FROM tags WHERE user_id = ? ORDER BY name", userID)
	if err != nil {
		return nil, dbError("list tags", err)
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name); err != nil {
			return nil, dbError("scan tag", err)
		}
		tags = append(tags, t)
	}
	return tags, dbError("list tags", rows.Err())
}

// assetTagsForUser maps asset id to the user's tag names, sorted.
func (c *Core) assetTagsForUser(ctx context.Context, userID string) (map[int64][]string, error) {
	rows, err := c.run().query(ctx, `
		SELECT at.asset_id, t.name
		FROM asset_tags at
		JOIN tags t ON t.id = at.tag_id
		WHERE at.user_id = ?
		ORDER BY at.asset_id, t.name
	`, userID)
	if err != nil {
		return nil, dbError("query asset tags", err)
	}
	defer rows.Close()

	result := make(map[int64][]string)
	for rows.Next() {
		var assetID int64
		var name string
		if err := rows.Scan(&assetID, &name); err != nil {
			return nil, dbError("scan asset tag", err)
		}
		result[assetID] = append(result[assetID], name)
	}
	return result, dbError("query asset tags", rows.Err())
}

// PortfolioRequest defines inputs to create or update a portfolio group.
type PortfolioRequest struct {
	Name        string
	Description *string
	Tags        []string
}

func normalizeTagNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CreatePortfolio creates a named group of tags for the user.
func (c *Core) CreatePortfolio(ctx context.Context, userID string, req PortfolioRequest) (*Portfolio, error) {
	req.Name = strings.TrimSpace(req.Name)
	if userID == "" {
		return nil, validationError("user_id required")
	}
	if req.Name == "" {
		return nil, validationError("portfolio name required")
	}
	var id int64
	err := c.inTx(ctx, func(r runner) error {
		var exists int
		err := r.queryRow(ctx, "SELECT 1 FROM portfolios WHERE user_id = ? AND name = ?", userID, req.Name).Scan(&exists)
		if err == nil {
			return NewError(ErrCodeDuplicate, "portfolio already exists: "+req.Name)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		id, err = r.insert(ctx, `
			INSERT INTO portfolios (user_id, name, description, created_at) VALUES (?, ?, ?, ?)
		`, userID, req.Name, nullString(req.Description), c.timestamp())
		if err != nil {
			return err
		}
		return c.setPortfolioTags(ctx, r, userID, id, req.Tags)
	})
	if err != nil {
		return nil, dbError("create portfolio", err)
	}
	return c.GetPortfolio(ctx, userID, id)
}

// UpdatePortfolio replaces a portfolio's name, description and tag set.
func (c *Core) UpdatePortfolio(ctx context.Context, userID string, id int64, req PortfolioRequest) (*Portfolio, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, validationError("portfolio name required")
	}
	err := c.inTx(ctx, func(r runner) error {
		res, err := r.exec(ctx, "UPDATE portfolios SET name = ?, description = ? WHERE id = ? AND user_id = ?",
			req.Name, nullString(req.Description), id, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("portfolio")
		}
		return c.setPortfolioTags(ctx, r, userID, id, req.Tags)
	})
	if err != nil {
		return nil, dbError("update portfolio", err)
	}
	return c.GetPortfolio(ctx, userID, id)
}

func (c *Core) setPortfolioTags(ctx context.Context, r runner, userID string, portfolioID int64, names []string) error {
	if _, err := r.exec(ctx, "DELETE FROM portfolio_tags WHERE portfolio_id = ?", portfolioID); err != nil {
		return err
	}
	for _, name := range normalizeTagNames(names) {
		tagID, err := c.ensureTag(ctx, r, userID, name)
		if err != nil {
			return err
		}
		if _, err := r.exec(ctx, "INSERT INTO portfolio_tags (portfolio_id, tag_id) VALUES (?, ?)", portfolioID, tagID); err != nil {
			return err
		}
	}
	return nil
}

// DeletePortfolio removes a portfolio group; its tags stay.
func (c *Core) DeletePortfolio(ctx context.Context, userID string, id int64) (bool, error) {
	deleted := false
	err := c.inTx(ctx, func(r runner) error {
		if _, err := r.exec(ctx, `
			DELETE FROM portfolio_tags WHERE portfolio_id IN (SELECT id FROM portfolios WHERE id = ? AND user_id = ?)
		`, id, userID); err != nil {
			return err
		}
		res, err := r.exec(ctx, "DELETE FROM portfolios WHERE id = ? AND user_id = ?", id, userID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, dbError("delete portfolio", err)
	}
	return deleted, nil
}

// GetPortfolio returns one of the user's portfolios.
func (c *Core) GetPortfolio(ctx context.Context, userID string, id int64) (*Portfolio, error) {
	portfolios, err := c.listPortfolios(ctx, userID, &id)
	if err != nil {
		return nil, err
	}
	if len(portfolios) == 0 {
		return nil, notFound("portfolio")
	}
	return &portfolios[0], nil
}

// ListPortfolios returns the user's portfolios ordered by name.
func (c *Core) ListPortfolios(ctx context.Context, userID string) ([]Portfolio, error) {
	return c.listPortfolios(ctx, userID, nil)
}

func (c *Core) listPortfolios(ctx context.Context, userID string, id *int64) ([]Portfolio, error) {
	query := "SELECT id, user_id, name, description FROM portfolios WHERE user_id = ?"
	args := []any{userID}
	if id != nil {
		query += " AND id = ?"
		args = append(args, *id)
	}
	rows, err := c.run().query(ctx, query+" ORDER BY name", args...)
	if err != nil {
		return nil, dbError("list portfolios", err)
	}
	portfolios := []Portfolio{}
	index := map[int64]int{}
	for rows.Next() {
		var p Portfolio
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &description); err != nil {
			rows.Close()
			return nil, dbError("scan portfolio", err)
		}
		p.Description = stringFromNull(description)
		p.Tags = []string{}
		index[p.ID] = len(portfolios)
		portfolios = append(portfolios, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbError("list portfolios", err)
	}
	if len(portfolios) == 0 {
		return portfolios, nil
	}

	tagRows, err := c.run().query(ctx, `
		SELECT pt.portfolio_id, t.name
		FROM portfolio_tags pt
		JOIN tags t ON t.id = pt.tag_id
		WHERE t.user_id = ?
		ORDER BY t.name
	`, userID)
	if err != nil {
		return nil, dbError("list portfolio tags", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var pid int64
		var name string
		if err := tagRows.Scan(&pid, &name); err != nil {
			return nil, dbError("scan portfolio tag", err)
		}
		if i, ok := index[pid]; ok {
			portfolios[i].Tags = append(portfolios[i].Tags, name)
		}
	}
	return portfolios, dbError("list portfolio tags", tagRows.Err())
}

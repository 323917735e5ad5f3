// Package corebank holds the paging loop shared by the core banking
// connectors. The vendors differ in auth and endpoint shapes but all
// expose entity collections paged with an incremental-sync filter.
package corebank

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

// PageFunc fetches one page of an entity. since is the watermark filter
// value ("" when syncing full). It returns the rows and whether more
// pages follow.
type PageFunc func(ctx context.Context, entity string, page int, since string) ([]map[string]interface{}, bool, error)

// Pager walks every configured entity page by page and tracks the
// newest watermark value seen.
type Pager struct {
	Entities       []string
	PageSize       int
	Since          string
	WatermarkField string
	Deadline       time.Time
	Fetch          PageFunc

	entity  int
	page    int
	maxSeen string
}

// Next returns up to max records, advancing entities as they drain.
func (p *Pager) Next(ctx context.Context, max int) ([]model.Record, bool, error) {
	var out []model.Record
	for len(out) < max {
		if p.entity >= len(p.Entities) {
			return out, true, nil
		}
		if !p.Deadline.IsZero() && time.Now().After(p.Deadline) {
			return out, true, nil
		}

		entity := p.Entities[p.entity]
		rows, more, err := p.Fetch(ctx, entity, p.page+1, p.Since)
		if err != nil {
			return out, false, err
		}
		now := time.Now().UTC()
		for i, row := range rows {
			rec := model.Record{
				Data:      row,
				Timestamp: now,
				Source: map[string]string{
					"entity": entity,
					"page":   strconv.Itoa(p.page + 1),
					"index":  strconv.Itoa(i),
				},
			}
			if id, ok := row["id"]; ok {
				rec.Key = entity + ":" + fmt.Sprintf("%v", id)
			}
			if p.WatermarkField != "" {
				if v, ok := row[p.WatermarkField].(string); ok && v > p.maxSeen {
					p.maxSeen = v
				}
			}
			out = append(out, rec)
		}

		if more && len(rows) > 0 {
			p.page++
			continue
		}
		p.entity++
		p.page = 0
	}
	return out, false, nil
}

// Watermark is the newest watermark-field value observed, falling back
// to the incoming watermark when nothing newer arrived.
func (p *Pager) Watermark() string {
	if p.maxSeen > p.Since {
		return p.maxSeen
	}
	return p.Since
}

// Validate checks the pager is runnable.
func (p *Pager) Validate() error {
	if len(p.Entities) == 0 {
		return errors.New(errors.ErrorTypeConfig, "entities is required")
	}
	if p.Fetch == nil {
		return errors.New(errors.ErrorTypeInternal, "pager has no fetch function")
	}
	return nil
}

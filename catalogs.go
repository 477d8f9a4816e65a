package client

import (
	"context"
	"net/url"
	"strconv"
)

// Catalog is a parts catalog visible to the authenticated member.
type Catalog struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// CatalogPage is one page of the catalog listing.
type CatalogPage struct {
	Catalogs []Catalog `json:"catalogs"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// CatalogService wraps the catalog endpoints. Every call goes through the
// manager for a valid token, so callers never touch token material.
type CatalogService struct {
	resource
}

func NewCatalogService(client HTTPClient, manager *AuthManager) *CatalogService {
	return &CatalogService{resource{client: client, manager: manager}}
}

// List returns a page of catalogs. Non-positive limit and offset are omitted
// and the server defaults apply.
func (s *CatalogService) List(ctx context.Context, limit, offset int) (*CatalogPage, error) {
	var extra []RequestOption
	if limit > 0 {
		extra = append(extra, WithQuery("limit", strconv.Itoa(limit)))
	}
	if offset > 0 {
		extra = append(extra, WithQuery("offset", strconv.Itoa(offset)))
	}

	opts, err := s.authOptions(ctx, extra...)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Get(ctx, "/catalogs", opts...)
	if err != nil {
		return nil, err
	}
	s.manager.SessionPropagator().CaptureResponse(res)

	page := &CatalogPage{}
	if err := res.DecodeJSON(page); err != nil {
		return nil, err
	}
	return page, nil
}

// Get returns a single catalog by id.
func (s *CatalogService) Get(ctx context.Context, id string) (*Catalog, error) {
	if id == "" {
		return nil, errWithMeta(ErrValidation, nil, map[string]any{"reason": "catalog id is required"})
	}

	opts, err := s.authOptions(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Get(ctx, "/catalogs/"+url.PathEscape(id), opts...)
	if err != nil {
		return nil, err
	}
	s.manager.SessionPropagator().CaptureResponse(res)

	catalog := &Catalog{}
	if err := res.DecodeJSON(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

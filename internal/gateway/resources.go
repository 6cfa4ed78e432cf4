package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"agencycrm/internal/apierr"
	"agencycrm/internal/models"
	"agencycrm/internal/utils"
)

// Collection is the remote side of one entity collection: GET/POST /{resource},
// PUT/DELETE /{resource}/{id}.
type Collection[T models.Entity] struct {
	client   *Client
	resource models.Resource
}

func NewCollection[T models.Entity](client *Client, resource models.Resource) *Collection[T] {
	return &Collection[T]{client: client, resource: resource}
}

func (c *Collection[T]) Resource() models.Resource {
	return c.resource
}

func (c *Collection[T]) path(id string) string {
	if id == "" {
		return "/" + string(c.resource)
	}
	return fmt.Sprintf("/%s/%s", c.resource, url.PathEscape(id))
}

// List fetches the committed snapshot of the collection.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	var out []T
	if err := c.client.do(ctx, http.MethodGet, c.path(""), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create posts draft without any client-side id and returns the fields of the
// server record, keyed in camelCase. Only keys present in the response appear.
func (c *Collection[T]) Create(ctx context.Context, draft T) (map[string]interface{}, error) {
	body, err := utils.ToFields(draft)
	if err != nil {
		return nil, apierr.Transient(err)
	}
	delete(body, "id")
	var out map[string]interface{}
	if err := c.client.do(ctx, http.MethodPost, c.path(""), body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update sends only the patched fields and returns the fields the server sent
// back. A body-less reply yields an empty map.
func (c *Collection[T]) Update(ctx context.Context, id string, patch map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.client.do(ctx, http.MethodPut, c.path(id), patch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the record. A 404 is returned as an apierr NotFound error;
// deciding that it means success is the caller's business.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.client.do(ctx, http.MethodDelete, c.path(id), nil, nil)
}

package api

import "context"

const stylesPath = "/api/user-styles/list-styles/"

// Style is one selectable dialect style.
type Style struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListStyles fetches the ordered dialect style listing.
func (c *Client) ListStyles(ctx context.Context) ([]Style, error) {
	var styles []Style
	if err := c.getJSON(ctx, stylesPath, &styles); err != nil {
		return nil, err
	}
	return styles, nil
}

package tap

import (
	"context"
	"net/http"
	"strings"

	"tapkit/internal/conn"
	"tapkit/internal/domain"
	"tapkit/internal/params"
	"tapkit/internal/tapxml"
)

// LoadGroups loads the sharing groups of the user.
func (p *Plus) LoadGroups(ctx context.Context) ([]*domain.Group, error) {
	resp, err := p.handler.Get(ctx, conn.Tap, "share", params.New().Set("action", "GetGroups"))
	if err != nil {
		return nil, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return nil, conn.ConsumeError(resp)
	}
	defer resp.Body.Close()

	groups, err := tapxml.ParseGroups(resp.Body)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Done.", "groups", len(groups))
	return groups, nil
}

// LoadGroup returns the group titled name, or nil when there is none.
func (p *Plus) LoadGroup(ctx context.Context, name string) (*domain.Group, error) {
	if name == "" {
		return nil, domain.ErrValidation("group name must be specified")
	}
	groups, err := p.LoadGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Title == name {
			return g, nil
		}
	}
	return nil, nil
}

// LoadSharedItems loads the items the user shares.
func (p *Plus) LoadSharedItems(ctx context.Context) ([]*domain.SharedItem, error) {
	resp, err := p.handler.Get(ctx, conn.Tap, "share", params.New().Set("action", "GetSharedItems"))
	if err != nil {
		return nil, err
	}
	if conn.CheckStatus(resp, http.StatusOK) {
		return nil, conn.ConsumeError(resp)
	}
	defer resp.Body.Close()

	items, err := tapxml.ParseSharedItems(resp.Body)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Done.", "shared_items", len(items))
	return items, nil
}

func (p *Plus) requireGroup(ctx context.Context, name string) (*domain.Group, error) {
	g, err := p.LoadGroup(ctx, name)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, domain.ErrNotFound("group %q not found", name)
	}
	return g, nil
}

// ShareTable shares tableName with the group groupName, read only.
func (p *Plus) ShareTable(ctx context.Context, groupName, tableName, description string) error {
	if groupName == "" || tableName == "" {
		return domain.ErrValidation("both group name and table name must be specified")
	}
	g, err := p.requireGroup(ctx, groupName)
	if err != nil {
		return err
	}
	meta, err := p.LoadTable(ctx, tableName)
	if err != nil {
		return err
	}
	if meta == nil {
		return domain.ErrNotFound("table %q not found", tableName)
	}
	form := params.New().
		Set("action", "CreateOrUpdateItem").
		Set("resource_type", "0").
		Set("title", tableName).
		Set("description", description).
		Set("items_list", g.ID+"|Group|Read")
	if err := p.post(ctx, conn.Tap, "share", form); err != nil {
		return err
	}
	p.logger.Info("Shared table", "table", tableName, "group", groupName)
	return nil
}

// ShareTableStop stops sharing tableName with groupName.
func (p *Plus) ShareTableStop(ctx context.Context, groupName, tableName string) error {
	if groupName == "" || tableName == "" {
		return domain.ErrValidation("both group name and table name must be specified")
	}
	g, err := p.requireGroup(ctx, groupName)
	if err != nil {
		return err
	}
	items, err := p.LoadSharedItems(ctx)
	if err != nil {
		return err
	}
	var item *domain.SharedItem
	for _, it := range items {
		if it.Title == tableName && it.SharedWith(g.ID) {
			item = it
			break
		}
	}
	if item == nil {
		return domain.ErrNotFound("table %q shared to group %q not found", tableName, groupName)
	}
	form := params.New().
		Set("action", "RemoveItem").
		Set("resource_type", "0").
		Set("resource_id", item.ID)
	if err := p.post(ctx, conn.Tap, "share", form); err != nil {
		return err
	}
	p.logger.Info("Stop sharing table", "table", tableName, "group", groupName)
	return nil
}

// ShareGroupCreate creates a group. Titles are unique per user.
func (p *Plus) ShareGroupCreate(ctx context.Context, groupName, description string) error {
	if groupName == "" {
		return domain.ErrValidation("group name must be specified")
	}
	existing, err := p.LoadGroup(ctx, groupName)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.ErrValidation("group %q already exists", groupName)
	}
	form := params.New().
		Set("action", "CreateOrUpdateGroup").
		Set("resource_type", "0").
		Set("title", groupName).
		Set("description", description)
	if err := p.post(ctx, conn.Tap, "share", form); err != nil {
		return err
	}
	p.logger.Info("Created group", "group", groupName)
	return nil
}

// ShareGroupDelete deletes a group.
func (p *Plus) ShareGroupDelete(ctx context.Context, groupName string) error {
	if groupName == "" {
		return domain.ErrValidation("group name must be specified")
	}
	g, err := p.requireGroup(ctx, groupName)
	if err != nil {
		return err
	}
	form := params.New().
		Set("action", "RemoveGroup").
		Set("resource_type", "0").
		Set("group_id", g.ID)
	if err := p.post(ctx, conn.Tap, "share", form); err != nil {
		return err
	}
	p.logger.Info("Deleted group", "group", groupName)
	return nil
}

// ShareGroupAddUser adds a known user to a group.
func (p *Plus) ShareGroupAddUser(ctx context.Context, groupName, userID string) error {
	if groupName == "" || userID == "" {
		return domain.ErrValidation("both group name and user id must be specified")
	}
	g, err := p.requireGroup(ctx, groupName)
	if err != nil {
		return err
	}
	if g.HasUser(userID) {
		return domain.ErrValidation("user id %q found in group %q", userID, groupName)
	}
	valid, err := p.IsValidUser(ctx, userID)
	if err != nil {
		return err
	}
	if !valid {
		return domain.ErrNotFound("user id %q not found", userID)
	}
	users := append(memberIDs(g, ""), userID)
	if err := p.updateGroup(ctx, g, users); err != nil {
		return err
	}
	p.logger.Info("Added user to group", "user", userID, "group", groupName)
	return nil
}

// ShareGroupDeleteUser removes a member from a group.
func (p *Plus) ShareGroupDeleteUser(ctx context.Context, groupName, userID string) error {
	if groupName == "" || userID == "" {
		return domain.ErrValidation("both group name and user id must be specified")
	}
	g, err := p.requireGroup(ctx, groupName)
	if err != nil {
		return err
	}
	if !g.HasUser(userID) {
		return domain.ErrNotFound("user id %q not found in group %q", userID, groupName)
	}
	if err := p.updateGroup(ctx, g, memberIDs(g, userID)); err != nil {
		return err
	}
	p.logger.Info("Deleted user from group", "user", userID, "group", groupName)
	return nil
}

func (p *Plus) updateGroup(ctx context.Context, g *domain.Group, users []string) error {
	form := params.New().
		Set("action", "CreateOrUpdateGroup").
		Set("group_id", g.ID).
		Set("title", g.Title).
		Set("description", g.Description).
		Set("users_list", strings.Join(users, ","))
	return p.post(ctx, conn.Tap, "share", form)
}

// memberIDs returns the ids of the group members, except skip.
func memberIDs(g *domain.Group, skip string) []string {
	ids := make([]string, 0, len(g.Users))
	for _, u := range g.Users {
		if u.ID != skip || skip == "" {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

package tapxml

import (
	"io"
	"strings"

	"tapkit/internal/domain"
)

type xmlGroups struct {
	Groups []xmlGroup `xml:"group"`
}

// Group and user fields may be sent as attributes or child elements.
type xmlGroup struct {
	IDAttr          string    `xml:"id,attr"`
	TitleAttr       string    `xml:"title,attr"`
	DescriptionAttr string    `xml:"description,attr"`
	ID              string    `xml:"id"`
	Title           string    `xml:"title"`
	Description     string    `xml:"description"`
	Users           []xmlUser `xml:"users>user"`
}

type xmlUser struct {
	IDAttr   string `xml:"id,attr"`
	NameAttr string `xml:"name,attr"`
	ID       string `xml:"id"`
	Name     string `xml:"name"`
}

type xmlSharedItems struct {
	Items []xmlSharedItem `xml:"sharedItem"`
}

type xmlSharedItem struct {
	IDAttr          string           `xml:"id,attr"`
	TitleAttr       string           `xml:"title,attr"`
	TypeAttr        string           `xml:"type,attr"`
	DescriptionAttr string           `xml:"description,attr"`
	ID              string           `xml:"id"`
	Title           string           `xml:"title"`
	Type            string           `xml:"type"`
	Description     string           `xml:"description"`
	SharedToItems   []xmlShareTarget `xml:"sharedToItems>sharedToItem"`
	SharedTo        []xmlShareTarget `xml:"sharedTo"`
}

type xmlShareTarget struct {
	ShareTo   string `xml:"shareTo,attr"`
	ShareType string `xml:"shareType,attr"`
	ShareMode string `xml:"shareMode,attr"`
	ID        string `xml:"id,attr"`
	Type      string `xml:"type,attr"`
	Mode      string `xml:"mode,attr"`
}

// ParseGroups decodes the sharing groups of the logged-in user.
func ParseGroups(r io.Reader) ([]*domain.Group, error) {
	var doc xmlGroups
	if err := decode(r, &doc); err != nil {
		return nil, domain.ErrProtocol("parse groups: %v", err)
	}
	out := make([]*domain.Group, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		group := &domain.Group{
			ID:          first(g.IDAttr, g.ID),
			Title:       first(g.TitleAttr, g.Title),
			Description: first(g.DescriptionAttr, g.Description),
		}
		for _, u := range g.Users {
			group.Users = append(group.Users, domain.User{
				ID:   first(u.IDAttr, u.ID),
				Name: first(u.NameAttr, u.Name),
			})
		}
		out = append(out, group)
	}
	return out, nil
}

// ParseSharedItems decodes the items the logged-in user shares.
func ParseSharedItems(r io.Reader) ([]*domain.SharedItem, error) {
	var doc xmlSharedItems
	if err := decode(r, &doc); err != nil {
		return nil, domain.ErrProtocol("parse shared items: %v", err)
	}
	out := make([]*domain.SharedItem, 0, len(doc.Items))
	for _, it := range doc.Items {
		item := &domain.SharedItem{
			ID:          first(it.IDAttr, it.ID),
			Title:       first(it.TitleAttr, it.Title),
			Type:        first(it.TypeAttr, it.Type),
			Description: first(it.DescriptionAttr, it.Description),
		}
		for _, st := range append(it.SharedToItems, it.SharedTo...) {
			item.SharedTo = append(item.SharedTo, domain.SharedTarget{
				ID:   first(st.ShareTo, st.ID),
				Type: first(st.ShareType, st.Type),
				Mode: first(st.ShareMode, st.Mode),
			})
		}
		out = append(out, item)
	}
	return out, nil
}

func first(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

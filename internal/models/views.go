package models

import "time"

// SelectionView is a selection joined with the names of what it points at.
type SelectionView struct {
	ID                   string          `json:"id"`
	Phone                string          `json:"mobile_number"`
	Name                 string          `json:"user_name,omitempty"`
	Email                string          `json:"email,omitempty"`
	ZoneID               uint            `json:"zone_id"`
	ZoneName             string          `json:"zone_name"`
	OutletID             uint            `json:"outlet_id"`
	OutletName           string          `json:"outlet_name"`
	OutletAddress        string          `json:"outlet_address,omitempty"`
	ItemID               *uint           `json:"item_id,omitempty"`
	ItemName             string          `json:"item_name,omitempty"`
	UPIID                string          `json:"upi_id,omitempty"`
	Status               SelectionStatus `json:"status"`
	ScreenshotURL        string          `json:"screenshot_url,omitempty"`
	ScreenshotUploadedAt *time.Time      `json:"screenshot_uploaded_at,omitempty"`
	AdminNotes           string          `json:"admin_notes,omitempty"`
	ReviewedAt           *time.Time      `json:"reviewed_at,omitempty"`
	SelectedAt           time.Time       `json:"selected_at"`
}

// NewSelectionView maps a selection with preloaded relations. Missing
// relations render as "Unknown".
func NewSelectionView(s *Selection) SelectionView {
	v := SelectionView{
		ID:                   s.ID,
		Phone:                s.Phone,
		Name:                 s.Name,
		Email:                s.Email,
		ZoneID:               s.ZoneID,
		ZoneName:             "Unknown",
		OutletID:             s.OutletID,
		OutletName:           "Unknown",
		ItemID:               s.ItemID,
		Status:               s.Status,
		ScreenshotUploadedAt: s.ScreenshotUploadedAt,
		AdminNotes:           s.AdminNotes,
		ReviewedAt:           s.ReviewedAt,
		SelectedAt:           s.SelectedAt,
	}
	if s.Zone != nil {
		v.ZoneName = s.Zone.Name
	}
	if s.Outlet != nil {
		v.OutletName = s.Outlet.Name
		v.OutletAddress = s.Outlet.AddressLine1
		if s.Outlet.MainStreet != "" {
			if v.OutletAddress != "" {
				v.OutletAddress += ", "
			}
			v.OutletAddress += s.Outlet.MainStreet
		}
	}
	if s.Item != nil {
		v.ItemName = s.Item.Name
	} else if s.ItemID != nil {
		v.ItemName = "Unknown"
	}
	if s.UPIID != nil {
		v.UPIID = *s.UPIID
	}
	if s.ScreenshotURL != nil {
		v.ScreenshotURL = *s.ScreenshotURL
	}
	return v
}

// AdminStats summarises the campaign for the admin dashboard.
type AdminStats struct {
	TotalSelections int64     `json:"total_selections"`
	Pending         int64     `json:"pending"`
	Completed       int64     `json:"completed"`
	Approved        int64     `json:"approved"`
	Rejected        int64     `json:"rejected"`
	Expired         int64     `json:"expired"`
	TotalZones      int64     `json:"total_zones"`
	TotalOutlets    int64     `json:"total_outlets"`
	TotalItems      int64     `json:"total_items"`
	FormEntries     int64     `json:"form_entries"`
	RefreshedAt     time.Time `json:"refreshed_at"`
}

// ZoneView is a zone as the public catalog shows it: active outlets only.
type ZoneView struct {
	ID          uint         `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Outlets     []OutletView `json:"outlets"`
}

// OutletView is an active outlet with its items.
type OutletView struct {
	ID      uint       `json:"id"`
	Name    string     `json:"name"`
	Address string     `json:"address"`
	Items   []ItemView `json:"items"`
}

// ItemView is an item with its remaining stock.
type ItemView struct {
	ID                uint   `json:"id"`
	Name              string `json:"name"`
	AvailableQuantity int    `json:"available_quantity"`
	InStock           bool   `json:"in_stock"`
}

// NewZoneView maps a zone with preloaded outlets and items, dropping
// inactive outlets.
func NewZoneView(z *Zone) ZoneView {
	v := ZoneView{ID: z.ID, Name: z.Name, Description: z.Description, Outlets: []OutletView{}}
	for _, o := range z.Outlets {
		if !o.IsActive {
			continue
		}
		ov := OutletView{ID: o.ID, Name: o.Name, Address: o.AddressLine1, Items: []ItemView{}}
		if o.MainStreet != "" {
			if ov.Address != "" {
				ov.Address += ", "
			}
			ov.Address += o.MainStreet
		}
		for _, it := range o.Items {
			ov.Items = append(ov.Items, ItemView{
				ID:                it.ID,
				Name:              it.Name,
				AvailableQuantity: it.AvailableQuantity,
				InStock:           it.AvailableQuantity > 0,
			})
		}
		v.Outlets = append(v.Outlets, ov)
	}
	return v
}

// NewZoneCatalog maps every zone.
func NewZoneCatalog(zones []Zone) []ZoneView {
	out := make([]ZoneView, 0, len(zones))
	for i := range zones {
		out = append(out, NewZoneView(&zones[i]))
	}
	return out
}

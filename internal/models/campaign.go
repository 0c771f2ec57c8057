package models

import "time"

// SelectionStatus is the lifecycle state of a Selection.
type SelectionStatus string

const (
	StatusPending   SelectionStatus = "pending"
	StatusCompleted SelectionStatus = "completed"
	StatusExpired   SelectionStatus = "expired"
	StatusApproved  SelectionStatus = "approved"
	StatusRejected  SelectionStatus = "rejected"
)

// Participated lists the statuses that count as a finished participation.
// Approved and rejected rows went through completed first.
var Participated = []SelectionStatus{StatusCompleted, StatusApproved, StatusRejected}

// Zone is a geographic grouping of outlets a participant chooses between.
type Zone struct {
	ID          uint      `gorm:"column:id;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;type:varchar(100);not null;uniqueIndex" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`

	Outlets []Outlet `gorm:"foreignKey:ZoneID" json:"outlets,omitempty"`
}

// Outlet is a physical redemption location inside a zone.
type Outlet struct {
	ID             uint      `gorm:"column:id;primaryKey" json:"id"`
	ZoneID         uint      `gorm:"column:zone_id;not null;index" json:"zone_id"`
	Name           string    `gorm:"column:name;type:varchar(100);not null" json:"name"`
	AddressLine1   string    `gorm:"column:address_line_1;type:varchar(255)" json:"address_line_1"`
	MainStreet     string    `gorm:"column:main_street;type:varchar(255)" json:"main_street"`
	IsActive       bool      `gorm:"column:is_active;not null" json:"is_active"`
	MaxOrderAmount int       `gorm:"column:max_order_amount;not null" json:"max_order_amount"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`

	Items []Item `gorm:"foreignKey:OutletID" json:"items,omitempty"`
}

// Item is a stock-tracked reward unit offered at an outlet.
type Item struct {
	ID                uint      `gorm:"column:id;primaryKey" json:"id"`
	OutletID          uint      `gorm:"column:outlet_id;not null;index" json:"outlet_id"`
	Name              string    `gorm:"column:name;type:varchar(100);not null" json:"name"`
	AvailableQuantity int       `gorm:"column:available_quantity;not null;check:chk_items_available_quantity,available_quantity >= 0" json:"available_quantity"`
	PerOrderQuantity  int       `gorm:"column:per_order_quantity;not null" json:"per_order_quantity"`
	NoOfUsers         int       `gorm:"column:no_of_users;not null" json:"no_of_users"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// Selection is a participant's claim against a zone/outlet (and item, when
// the campaign tracks stock). Only one pending row may exist per phone.
type Selection struct {
	ID                   string          `gorm:"column:selection_id;primaryKey;type:varchar(50)"`
	Phone                string          `gorm:"column:mobile_number;type:varchar(15);not null;index:idx_selections_phone;uniqueIndex:idx_selections_pending_phone,where:status = 'pending'"`
	Name                 string          `gorm:"column:user_name;type:varchar(50)"`
	Email                string          `gorm:"column:email;type:varchar(255)"`
	ZoneID               uint            `gorm:"column:zone_id;not null;index"`
	OutletID             uint            `gorm:"column:outlet_id;not null;index"`
	ItemID               *uint           `gorm:"column:item_id;index"`
	UPIID                *string         `gorm:"column:upi_id;type:varchar(100);uniqueIndex"`
	Status               SelectionStatus `gorm:"column:status;type:varchar(20);not null;index"`
	ScreenshotURL        *string         `gorm:"column:screenshot_url;type:text"`
	ScreenshotUploadedAt *time.Time      `gorm:"column:screenshot_uploaded_at"`
	AdminNotes           string          `gorm:"column:admin_notes;type:text"`
	ReviewedAt           *time.Time      `gorm:"column:reviewed_at"`
	SelectedAt           time.Time       `gorm:"column:selected_at;not null;index"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime"`

	// Relationships
	Zone   *Zone   `gorm:"foreignKey:ZoneID"`
	Outlet *Outlet `gorm:"foreignKey:OutletID"`
	Item   *Item   `gorm:"foreignKey:ItemID"`
}

// FormEntry is a submission of the plain-form campaign variant, which caps
// entries per calendar month instead of tracking stock.
type FormEntry struct {
	ID            uint      `gorm:"column:id;primaryKey" json:"id"`
	Name          string    `gorm:"column:user_name;type:varchar(50);not null" json:"user_name"`
	Phone         string    `gorm:"column:mobile_number;type:varchar(15);not null;index:idx_form_entries_key,priority:1" json:"mobile_number"`
	Email         string    `gorm:"column:email;type:varchar(255);not null;index:idx_form_entries_key,priority:2" json:"email"`
	PinCode       string    `gorm:"column:pin_code;type:varchar(10)" json:"pin_code"`
	AddressLine1  string    `gorm:"column:address_line_1;type:varchar(255)" json:"address_line_1"`
	AddressLine2  string    `gorm:"column:address_line_2;type:varchar(255)" json:"address_line_2"`
	Landmark      string    `gorm:"column:landmark;type:varchar(255)" json:"landmark"`
	City          string    `gorm:"column:city;type:varchar(100)" json:"city"`
	ProductLink   string    `gorm:"column:product_link;type:text" json:"product_link"`
	ProductName   string    `gorm:"column:product_name;type:varchar(255)" json:"product_name"`
	ProductAmount int       `gorm:"column:product_amount" json:"product_amount"`
	UPIID         string    `gorm:"column:upi_id;type:varchar(100)" json:"upi_id"`
	SubmittedAt   time.Time `gorm:"column:submitted_at;not null;index" json:"submitted_at"`
}

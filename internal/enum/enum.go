package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusPending   = "pending"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// ── Group C: Borderline (CHECK constrained in DB) ──

const (
	RoleCustomer = "customer"
	RoleOwner    = "owner"
)

// ── Group B: Configurable labels (no DB constraint) ──

// Tables that emit change notifications.
const (
	TableCategories  = "categories"
	TableMenuItems   = "menu_items"
	TableDailyOffers = "daily_offers"
	TableOrders      = "orders"
)

const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
	ChangeAll    = "*"
)

// Blob buckets.
const (
	BucketMenuImages     = "menu-images"
	BucketCategoryImages = "category-images"
	BucketOfferImages    = "offer-images"
	BucketAvatars        = "avatars"
)

// Client-local storage keys.
const (
	StorageKeyCart        = "cart"
	StorageKeyLastOrderID = "last_order_id"
	StorageKeySession     = "session"
)

const DefaultCustomerName = "Guest"

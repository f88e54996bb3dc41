package cache

import "strconv"

// Resource tags. A key is the tag followed by colon-separated parameters.
const (
	TagCart       = "cart"
	TagCategory   = "category"
	TagCategories = "categories"
	TagProduct    = "product"
	TagProducts   = "products"
	TagOrder      = "order"
	TagOrders     = "orders"
	TagPermission = "permission"
	TagUser       = "user"
	TagUsers      = "users"
	TagMe         = "me"
	TagBan        = "ban"
	TagReviews    = "reviews"
)

// EntityKey is the key of a single entity or a user-scoped singleton:
// "{tag}:{id}".
func EntityKey(tag string, id int64) string {
	return tag + ":" + strconv.FormatInt(id, 10)
}

// PageKey is the key of one page of a collection: "{tag}:{cursor}:{limit}".
func PageKey(tag string, cursor int64, limit int) string {
	return tag + ":" + strconv.FormatInt(cursor, 10) + ":" + strconv.Itoa(limit)
}

// ScopedPageKey is the key of one page of a user-scoped collection:
// "{tag}:{userID}:{cursor}:{limit}".
func ScopedPageKey(tag string, userID, cursor int64, limit int) string {
	return tag + ":" + strconv.FormatInt(userID, 10) + ":" +
		strconv.FormatInt(cursor, 10) + ":" + strconv.Itoa(limit)
}

// AllEntities matches every EntityKey of tag.
func AllEntities(tag string) Pattern {
	return Pattern(tag + ":*")
}

// AllPages matches every PageKey of tag.
func AllPages(tag string) Pattern {
	return Pattern(tag + ":*:*")
}

// AllScopedPages matches every ScopedPageKey of tag for one user.
func AllScopedPages(tag string, userID int64) Pattern {
	return Pattern(tag + ":" + strconv.FormatInt(userID, 10) + ":*:*")
}

// BanKey is the key of a user's ban flag.
func BanKey(userID int64) string {
	return EntityKey(TagBan, userID)
}

package invalidate

import (
	"github.com/eugener/goshop/internal/cache"
)

// Kind names a committed mutation.
type Kind string

// Mutation kinds.
const (
	CategoryCreated   Kind = "category.create"
	CategoryChanged   Kind = "category.update" // update or delete
	ProductCreated    Kind = "product.create"
	ProductChanged    Kind = "product.update" // update or delete
	CartChanged       Kind = "cart.update"
	OrderPlaced       Kind = "order.place"
	ReviewCreated     Kind = "review.create"
	PermissionUpdated Kind = "permission.update"
	RoleChanged       Kind = "user.role"
	UserBanned        Kind = "user.ban"
	ProfileChanged    Kind = "user.profile"
	UserCreated       Kind = "user.create"
)

// Kinds lists every mutation kind with a rule.
var Kinds = []Kind{
	CategoryCreated, CategoryChanged, ProductCreated, ProductChanged, CartChanged,
	OrderPlaced, ReviewCreated, PermissionUpdated, RoleChanged, UserBanned, ProfileChanged,
	UserCreated,
}

// Change describes one committed mutation. ID is the mutated entity (the
// product for reviews, the target user for user changes). UserID is the owner
// of user-scoped views. Related carries secondary ids, such as the products
// of a placed order.
type Change struct {
	Kind    Kind
	ID      int64
	UserID  int64
	Related []int64
}

// Plan is the set of exact keys and patterns to delete.
type Plan struct {
	Keys     []string
	Patterns []cache.Pattern
}

// Empty reports whether the plan deletes nothing.
func (p Plan) Empty() bool { return len(p.Keys) == 0 && len(p.Patterns) == 0 }

type planner struct {
	plan     Plan
	seenKey  map[string]struct{}
	seenPatt map[cache.Pattern]struct{}
}

func (b *planner) key(k string) {
	if _, ok := b.seenKey[k]; ok {
		return
	}
	b.seenKey[k] = struct{}{}
	b.plan.Keys = append(b.plan.Keys, k)
}

func (b *planner) pattern(p cache.Pattern) {
	if _, ok := b.seenPatt[p]; ok {
		return
	}
	b.seenPatt[p] = struct{}{}
	b.plan.Patterns = append(b.plan.Patterns, p)
}

// user queues the views that render a user record.
func (b *planner) user(id int64) {
	b.key(cache.EntityKey(cache.TagUser, id))
	b.key(cache.EntityKey(cache.TagMe, id))
	b.pattern(cache.AllPages(cache.TagUsers))
}

// PlanFor resolves changes to a deduplicated deletion plan. Collection views
// are always dropped wholesale: a cached page window cannot be patched.
func PlanFor(changes ...Change) Plan {
	b := planner{
		seenKey:  make(map[string]struct{}),
		seenPatt: make(map[cache.Pattern]struct{}),
	}
	for _, c := range changes {
		switch c.Kind {
		case CategoryCreated:
			b.pattern(cache.AllPages(cache.TagCategories))

		case CategoryChanged:
			// Products embed their category; carts and profiles embed products.
			b.key(cache.EntityKey(cache.TagCategory, c.ID))
			b.pattern(cache.AllPages(cache.TagCategories))
			b.pattern(cache.AllEntities(cache.TagProduct))
			b.pattern(cache.AllPages(cache.TagProducts))
			b.pattern(cache.AllEntities(cache.TagCart))
			b.pattern(cache.AllEntities(cache.TagMe))

		case ProductCreated:
			b.pattern(cache.AllPages(cache.TagProducts))

		case ProductChanged:
			b.key(cache.EntityKey(cache.TagProduct, c.ID))
			b.key(cache.EntityKey(cache.TagReviews, c.ID))
			b.pattern(cache.AllPages(cache.TagProducts))
			b.pattern(cache.AllEntities(cache.TagCart))
			b.pattern(cache.AllEntities(cache.TagMe))

		case CartChanged:
			b.key(cache.EntityKey(cache.TagCart, c.UserID))
			b.key(cache.EntityKey(cache.TagMe, c.UserID))

		case OrderPlaced:
			// Stock moved: every view embedding an ordered product is stale.
			for _, pid := range c.Related {
				b.key(cache.EntityKey(cache.TagProduct, pid))
			}
			b.pattern(cache.AllScopedPages(cache.TagOrders, c.UserID))
			b.pattern(cache.AllPages(cache.TagProducts))
			b.pattern(cache.AllEntities(cache.TagCart))
			b.pattern(cache.AllEntities(cache.TagMe))

		case ReviewCreated:
			b.key(cache.EntityKey(cache.TagReviews, c.ID))
			b.key(cache.EntityKey(cache.TagProduct, c.ID))
			b.key(cache.EntityKey(cache.TagMe, c.UserID))

		case PermissionUpdated, RoleChanged:
			b.key(cache.EntityKey(cache.TagPermission, c.ID))
			b.user(c.ID)

		case UserBanned, ProfileChanged:
			b.user(c.ID)
		case UserCreated:
			b.pattern(cache.AllPages(cache.TagUsers))
		}
	}
	return b.plan
}

// evictsIdentity reports whether a change alters what an authenticated
// identity carries (role, permissions or standing).
func evictsIdentity(k Kind) bool {
	switch k {
	case PermissionUpdated, RoleChanged, UserBanned, ProfileChanged:
		return true
	}
	return false
}

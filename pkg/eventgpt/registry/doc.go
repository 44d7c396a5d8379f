// Package registry provides a thread-safe registry of named values.
//
// The schema and heads packages keep their distribution families here: the
// schema records which family names are valid for a kind and their support,
// the heads package records how to build a head for a family. Both are
// seeded with the built-in families and extended at init time by callers
// that register their own.
//
//	supports := registry.New(map[string]schema.Support{
//	    "gaussian": schema.RealSupport,
//	})
//	supports.Register("weibull", schema.PositiveSupport)
//
//	s, ok := supports.Get("weibull")
//	fmt.Println(supports.Keys()) // [gaussian weibull]
//
// Use GetOrCreate for nested registries that appear on first use:
//
//	perKind := registry.New[schema.Kind, *registry.Registry[string, schema.Support]](nil)
//	byName := perKind.GetOrCreate(kind, func() *registry.Registry[string, schema.Support] {
//	    return registry.New[string, schema.Support](nil)
//	})
package registry

// Package restmodel maps remote HTTP/REST resources onto mutable in-memory
// model objects, giving a remote service the ergonomics of an object mapper.
//
// A Class describes one remote collection: its element and collection names,
// primary key, URL prefix template, site, credentials, format, and schema.
// Resources are instances of a Class, created locally with Class.New or
// materialized from server responses by the finders.
//
// Basic usage:
//
//	person := restmodel.NewClass("Person", restmodel.WithSite("https://api.example.com"))
//
//	ryan, err := person.Find(ctx, 1, nil)
//	if err != nil { ... }
//
//	ryan.Set("first", "Rizzle")
//	ok, err := ryan.Save(ctx)
//
// Nested resources declare prefix templates with :param placeholders:
//
//	address := restmodel.NewClass("Address",
//		restmodel.WithSite("https://api.example.com"),
//		restmodel.WithPrefix("/people/:person_id/"))
//
//	home, err := address.Find(ctx, 1, restmodel.Options{"person_id": 5})
//	// GET /people/5/addresses/1.json
//
// Index-style queries return a lazy Collection: chained Where calls merge
// query parameters without issuing requests; the first accessor fetches once
// and caches until Refresh.
//
//	managers := person.FindAll(restmodel.Options{"title": "manager"}).Where(restmodel.Options{"active": true})
//	all, err := managers.All(ctx)
//
// Validation failures, local and remote (HTTP 422), aggregate in
// Resource.Errors; Save reports them as a false return, MustSave as a typed
// *InvalidResourceError.
package restmodel

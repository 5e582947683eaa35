// Package poky is the data layer of a catalog browser for PokeAPI:
//
//   - Client issues GET requests and normalizes failures into *ClientError
//   - Store caches responses per query key with a TTL, merges concurrent
//     identical fetches and revalidates stale entries in the background
//   - Catalog exposes list and detail queries as a four-field Result
//     (Data, Error, IsLoading, IsFetching)
//   - Bridge persists completed entries to a Storage and restores them at
//     startup
//
// Catalog pages stay fresh for five minutes, single records for ten. A
// stale entry keeps serving its last value while it is refetched. Nothing
// is retried automatically; Query.Refetch is the retry action.
//
// Typical usage:
//
//	client := poky.New(poky.WithBaseURL("https://pokeapi.co/api/v2"))
//	store := poky.NewStore()
//	defer store.Close()
//	catalog := poky.NewCatalog(client, store)
//
//	q, err := catalog.ListCatalog(poky.ListQuery{Limit: 20})
//	if err != nil {
//	    return err
//	}
//	defer q.Close()
//	res, _ := q.Wait(ctx)
//	for _, item := range poky.FilterByName(res.Data.Results, "saur") {
//	    fmt.Println(item.ID(), item.Name)
//	}
//
// The package avoids opinionated logging: provide a Logger (e.g. via
// WithSimpleLogger) and enable debug flags selectively (WithDebug /
// WithDebugConfig).
package poky

// Package schema describes the attributes a class of resources must carry.
//
// A Description maps attribute names to a Type and marks some of them required. A Catalog
// attaches descriptions to address patterns and resolves the most specific one for an address,
// the same way handler resolution works:
//
//	cat := schema.NewCatalog()
//	err := cat.Register(domain.MustParseAddress("/subsystem=datasources/data-source=*"), schema.Description{
//	    "jndi-name":     {Type: schema.String(), Required: true},
//	    "max-pool-size": {Type: schema.Int()},
//	})
//
// Attributes a description does not name are accepted as they are.
package schema

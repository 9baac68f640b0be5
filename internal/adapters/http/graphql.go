package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/himalmaps/tilevault/internal/core/domain"
	"github.com/himalmaps/tilevault/internal/core/usecases"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"north": &graphql.Field{Type: graphql.Float},
			"south": &graphql.Field{Type: graphql.Float},
			"east":  &graphql.Field{Type: graphql.Float},
			"west":  &graphql.Field{Type: graphql.Float},
		},
	})

	regionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Region",
		Fields: graphql.Fields{
			"key":      &graphql.Field{Type: graphql.String},
			"name":     &graphql.Field{Type: graphql.String},
			"bounds":   &graphql.Field{Type: boundsType},
			"priority": &graphql.Field{Type: graphql.Int},
			"min_zoom": &graphql.Field{Type: graphql.Int},
			"max_zoom": &graphql.Field{Type: graphql.Int},
		},
	})

	regionStateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RegionState",
		Fields: graphql.Fields{
			"key":           &graphql.Field{Type: graphql.String},
			"provider":      &graphql.Field{Type: graphql.String},
			"max_zoom":      &graphql.Field{Type: graphql.Int},
			"downloaded":    &graphql.Field{Type: graphql.Int},
			"total":         &graphql.Field{Type: graphql.Int},
			"downloaded_at": &graphql.Field{Type: graphql.DateTime},
		},
	})

	regionStatusType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RegionStatus",
		Fields: graphql.Fields{
			"region":     &graphql.Field{Type: regionType},
			"downloaded": &graphql.Field{Type: graphql.Boolean},
			"partial":    &graphql.Field{Type: graphql.Boolean},
			"state":      &graphql.Field{Type: regionStateType},
		},
	})

	estimateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Estimate",
		Fields: graphql.Fields{
			"region":     &graphql.Field{Type: graphql.String},
			"min_zoom":   &graphql.Field{Type: graphql.Int},
			"max_zoom":   &graphql.Field{Type: graphql.Int},
			"tile_count": &graphql.Field{Type: graphql.Int},
			"bytes":      &graphql.Field{Type: graphql.Float},
		},
	})

	providerType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Provider",
		Fields: graphql.Fields{
			"key":         &graphql.Field{Type: graphql.String},
			"attribution": &graphql.Field{Type: graphql.String},
			"max_zoom":    &graphql.Field{Type: graphql.Int},
		},
	})

	syncOperationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SyncOperation",
		Fields: graphql.Fields{
			"id":             &graphql.Field{Type: graphql.String},
			"type":           &graphql.Field{Type: graphql.String},
			"retry_count":    &graphql.Field{Type: graphql.Int},
			"estimated_size": &graphql.Field{Type: graphql.Float},
			"enqueued_at":    &graphql.Field{Type: graphql.DateTime},
			"priority": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					op, ok := p.Source.(domain.SyncOperation)
					if !ok {
						return nil, nil
					}
					return op.Priority.String(), nil
				},
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"regions": &graphql.Field{
				Type:        graphql.NewList(regionStatusType),
				Description: "Offline region catalog with download state",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					status, err := deps.Downloads.Status(p.Context)
					if err != nil {
						return nil, err
					}
					return status.Regions, nil
				},
			},
			"region": &graphql.Field{
				Type:        regionStatusType,
				Description: "One catalog region with download state",
				Args: graphql.FieldConfigArgument{
					"key": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					key := p.Args["key"].(string)
					region, ok := domain.RegionByKey(key)
					if !ok {
						return nil, domain.ErrRegionNotFound
					}
					state, err := deps.Downloads.RegionState(p.Context, key)
					if err != nil {
						return nil, err
					}
					rs := usecases.RegionStatus{Region: region, State: state}
					if state != nil {
						rs.Downloaded = true
						rs.Partial = state.Partial()
					}
					return rs, nil
				},
			},
			"downloadStatus": &graphql.Field{
				Type: graphql.NewObject(graphql.ObjectConfig{
					Name: "DownloadStatus",
					Fields: graphql.Fields{
						"downloading":    &graphql.Field{Type: graphql.Boolean},
						"current_region": &graphql.Field{Type: graphql.String},
						"regions":        &graphql.Field{Type: graphql.NewList(regionStatusType)},
					},
				}),
				Description: "Whether a download is running and per-region state",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Downloads.Status(p.Context)
				},
			},
			"estimate": &graphql.Field{
				Type:        estimateType,
				Description: "Projected tile count and size for a region download",
				Args: graphql.FieldConfigArgument{
					"key":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"max_zoom": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					key := p.Args["key"].(string)
					maxZoom := p.Args["max_zoom"].(int)
					return deps.Downloads.Estimate(key, maxZoom)
				},
			},
			"providers": &graphql.Field{
				Type:        graphql.NewList(providerType),
				Description: "Configured tile providers",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return domain.Providers, nil
				},
			},
			"syncQueue": &graphql.Field{
				Type:        graphql.NewList(syncOperationType),
				Description: "Pending sync operations in execution order",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Sync.PendingOperations(p.Context)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.Context(),
		})

		return c.JSON(result)
	}
}

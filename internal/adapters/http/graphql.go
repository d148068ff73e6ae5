package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/core/ports"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	zoneType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Zone",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"name":        &graphql.Field{Type: graphql.String},
			"category":    &graphql.Field{Type: graphql.String},
			"customer_id": &graphql.Field{Type: graphql.String},
			"active":      &graphql.Field{Type: graphql.Boolean},
		},
	})

	eventType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ZoneEvent",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.String},
			"user_id":       &graphql.Field{Type: graphql.String},
			"zone_id":       &graphql.Field{Type: graphql.String},
			"zone_name":     &graphql.Field{Type: graphql.String},
			"type":          &graphql.Field{Type: graphql.String},
			"time":          &graphql.Field{Type: graphql.DateTime},
			"location":      &graphql.Field{Type: geoPointType},
			"dwell_seconds": &graphql.Field{Type: graphql.Int},
		},
	})

	tripType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Trip",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.String},
			"user_id":       &graphql.Field{Type: graphql.String},
			"task_id":       &graphql.Field{Type: graphql.String},
			"status":        &graphql.Field{Type: graphql.String},
			"start_time":    &graphql.Field{Type: graphql.DateTime},
			"end_time":      &graphql.Field{Type: graphql.DateTime},
			"start_trigger": &graphql.Field{Type: graphql.String},
			"end_trigger":   &graphql.Field{Type: graphql.String},
			"distance_km":   &graphql.Field{Type: graphql.Float},
			"duration_min":  &graphql.Field{Type: graphql.Float},
			"avg_speed_kmh": &graphql.Field{Type: graphql.Float},
			"max_speed_kmh": &graphql.Field{Type: graphql.Float},
			"inferred_end":  &graphql.Field{Type: graphql.Boolean},
		},
	})

	pingType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LocationPing",
		Fields: graphql.Fields{
			"user_id":  &graphql.Field{Type: graphql.String},
			"task_id":  &graphql.Field{Type: graphql.String},
			"time":     &graphql.Field{Type: graphql.DateTime},
			"location": &graphql.Field{Type: geoPointType},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"zones": &graphql.Field{
				Type:        graphql.NewList(zoneType),
				Description: "List active geofence zones",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Zones.List(p.Context, false)
				},
			},
			"zone": &graphql.Field{
				Type:        zoneType,
				Description: "Get a zone by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Zones.Get(p.Context, p.Args["id"].(string))
				},
			},
			"recentEvents": &graphql.Field{
				Type:        graphql.NewList(eventType),
				Description: "Newest zone membership events",
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Zones.RecentEvents(p.Context, p.Args["limit"].(int))
				},
			},
			"userEvents": &graphql.Field{
				Type:        graphql.NewList(eventType),
				Description: "Newest membership events for one user",
				Args: graphql.FieldConfigArgument{
					"user_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"limit":   &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Locations.EventsByUser(p.Context, p.Args["user_id"].(string), p.Args["limit"].(int))
				},
			},
			"userLocation": &graphql.Field{
				Type:        pingType,
				Description: "A user's most recent position",
				Args: graphql.FieldConfigArgument{
					"user_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Locations.Latest(p.Context, p.Args["user_id"].(string))
				},
			},
			"trip": &graphql.Field{
				Type:        tripType,
				Description: "Get a trip by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Trips.Get(p.Context, p.Args["id"].(string))
				},
			},
			"trips": &graphql.Field{
				Type:        graphql.NewList(tripType),
				Description: "List trips, optionally filtered by user and status",
				Args: graphql.FieldConfigArgument{
					"user_id": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"status":  &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"limit":   &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					trips, _, err := deps.Trips.List(p.Context, ports.TripFilter{
						UserID: p.Args["user_id"].(string),
						Status: domain.TripStatus(p.Args["status"].(string)),
						Limit:  p.Args["limit"].(int),
					})
					return trips, err
				},
			},
			"openTrip": &graphql.Field{
				Type:        tripType,
				Description: "A user's currently open trip",
				Args: graphql.FieldConfigArgument{
					"user_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Trips.Open(p.Context, p.Args["user_id"].(string))
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

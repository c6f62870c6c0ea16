// Package docs registers the OpenAPI document of the local control API with
// swag so gin-swagger can serve it. Regenerate with `swag init` after
// changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "tags": ["health"],
                "summary": "Health",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthCheck"}}}
            }
        },
        "/v1/proximity/state": {
            "get": {
                "tags": ["proximity"],
                "summary": "Current proximity state",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ProximitySnapshot"}}}
            }
        },
        "/v1/proximity/ws": {
            "get": {
                "tags": ["proximity"],
                "summary": "Stream proximity snapshots",
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/v1/proximity/refresh": {
            "post": {
                "tags": ["proximity"],
                "summary": "Refresh nearby",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ProximitySnapshot"}},
                    "502": {"description": "Proximity query failed", "schema": {"$ref": "#/definitions/docs.ErrorResponse"}}
                }
            }
        },
        "/v1/festival": {
            "put": {
                "tags": ["proximity"],
                "summary": "Select festival",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.SelectFestivalRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ProximitySnapshot"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/docs.ErrorResponse"}}
                }
            }
        },
        "/v1/permissions/request": {
            "post": {
                "tags": ["permissions"],
                "summary": "Request location permissions",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PermissionResponse"}}}
            }
        },
        "/v1/sessions": {
            "post": {
                "tags": ["sessions"],
                "summary": "Start sharing",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.StartSharingRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/types.SharingSession"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/docs.ErrorResponse"}},
                    "403": {"description": "Location permission missing", "schema": {"$ref": "#/definitions/docs.ErrorResponse"}},
                    "409": {"description": "Session could not be started", "schema": {"$ref": "#/definitions/docs.ErrorResponse"}}
                }
            }
        },
        "/v1/sessions/current": {
            "delete": {
                "tags": ["sessions"],
                "summary": "Stop sharing",
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/v1/tracking/local": {
            "post": {
                "tags": ["tracking"],
                "summary": "Start local tracking",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "schema": {"$ref": "#/definitions/types.LocalTrackingRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ProximitySnapshot"}},
                    "403": {"description": "Location permission missing", "schema": {"$ref": "#/definitions/docs.ErrorResponse"}},
                    "409": {"description": "Refused while sharing", "schema": {"$ref": "#/definitions/docs.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["tracking"],
                "summary": "Stop local tracking",
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/v1/device/permissions": {
            "put": {
                "tags": ["device"],
                "summary": "Report device permissions",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.DevicePermissionsRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PermissionResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/docs.ErrorResponse"}}
                }
            }
        },
        "/v1/device/fixes": {
            "post": {
                "tags": ["device"],
                "summary": "Report location fixes",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.DeviceFixesRequest"}}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.DeviceFixesResponse"}},
                    "400": {"description": "Invalid request or no valid fix", "schema": {"$ref": "#/definitions/docs.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "docs.ErrorResponse": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "example": "VALIDATION_ERROR"},
                "message": {"type": "string", "example": "invalid_request"},
                "details": {"type": "string", "example": "festivalId is required"},
                "code": {"type": "string", "example": "400"}
            }
        },
        "types.LocationFix": {
            "type": "object",
            "properties": {
                "latitude": {"type": "number"},
                "longitude": {"type": "number"},
                "accuracy": {"type": "number"},
                "capturedAt": {"type": "string", "format": "date-time"}
            }
        },
        "types.Coordinates": {
            "type": "object",
            "properties": {"lat": {"type": "number"}, "lng": {"type": "number"}}
        },
        "types.NearbyMember": {
            "type": "object",
            "properties": {
                "sessionId": {"type": "string"},
                "lastLocation": {"$ref": "#/definitions/types.LocationFix"}
            }
        },
        "types.NearbyPointOfInterest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "location": {"$ref": "#/definitions/types.Coordinates"},
                "distanceMeters": {"type": "number"}
            }
        },
        "types.SharingSession": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "festivalId": {"type": "string"},
                "startedAt": {"type": "string", "format": "date-time"},
                "durationMinutes": {"type": "integer"},
                "active": {"type": "boolean"}
            }
        },
        "types.ProximitySnapshot": {
            "type": "object",
            "properties": {
                "permission": {"type": "string", "enum": ["UNDETERMINED", "DENIED", "FOREGROUND_GRANTED", "BACKGROUND_GRANTED"]},
                "sessionState": {"type": "string", "enum": ["IDLE", "STARTING", "ACTIVE", "STOPPING", "EXPIRED"]},
                "session": {"$ref": "#/definitions/types.SharingSession"},
                "festivalId": {"type": "string"},
                "currentLocation": {"$ref": "#/definitions/types.LocationFix"},
                "nearbyMembers": {"type": "array", "items": {"$ref": "#/definitions/types.NearbyMember"}},
                "nearbyPointsOfInterest": {"type": "array", "items": {"$ref": "#/definitions/types.NearbyPointOfInterest"}},
                "closestPointOfInterest": {"$ref": "#/definitions/types.NearbyPointOfInterest"},
                "localTracking": {"type": "boolean"}
            }
        },
        "types.PermissionResponse": {
            "type": "object",
            "properties": {"permission": {"type": "string", "example": "FOREGROUND_GRANTED"}}
        },
        "types.StartSharingRequest": {
            "type": "object",
            "properties": {
                "festivalId": {"type": "string", "example": "oktoberfest-2026"},
                "durationMinutes": {"type": "integer", "minimum": 0, "maximum": 1440, "example": 120}
            }
        },
        "types.LocalTrackingRequest": {
            "type": "object",
            "properties": {"festivalId": {"type": "string", "example": "oktoberfest-2026"}}
        },
        "types.SelectFestivalRequest": {
            "type": "object",
            "required": ["festivalId"],
            "properties": {"festivalId": {"type": "string", "example": "oktoberfest-2026"}}
        },
        "types.DevicePermissionsRequest": {
            "type": "object",
            "required": ["foreground", "background"],
            "properties": {
                "foreground": {"type": "string", "enum": ["undetermined", "denied", "granted"]},
                "background": {"type": "string", "enum": ["undetermined", "denied", "granted"]}
            }
        },
        "types.DeviceFixesRequest": {
            "type": "object",
            "required": ["fixes"],
            "properties": {
                "fixes": {"type": "array", "minItems": 1, "maxItems": 500, "items": {"$ref": "#/definitions/types.LocationFix"}}
            }
        },
        "types.DeviceFixesResponse": {
            "type": "object",
            "properties": {"received": {"type": "integer"}, "accepted": {"type": "integer"}}
        },
        "types.HealthCheck": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["UP", "DOWN", "DEGRADED"]},
                "components": {"type": "object", "additionalProperties": {"type": "object"}},
                "version": {"type": "string"},
                "timestamp": {"type": "string"},
                "uptime": {"type": "string"},
                "sessionState": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Festival Proximity Control API",
	Description:      "Local control surface of the festival proximity core.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Timetable Engine API",
        "description": "Builds and optimises university timetables and serves the active schedule.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Generations", "description": "Timetable generation jobs"},
        {"name": "Schedules", "description": "Stored timetables and their analysis"}
    ],
    "paths": {
        "/generations": {
            "post": {
                "tags": ["Generations"],
                "summary": "Start a timetable generation",
                "description": "Queues a generation for the semester and returns its job id immediately.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/StartGenerationRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Queue full", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/generations/{jobId}": {
            "get": {
                "tags": ["Generations"],
                "summary": "Get generation status",
                "parameters": [
                    {"name": "jobId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/generations/{jobId}/stop": {
            "post": {
                "tags": ["Generations"],
                "summary": "Request a running generation to stop",
                "parameters": [
                    {"name": "jobId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/generations/{jobId}/history": {
            "get": {
                "tags": ["Generations"],
                "summary": "List optimizer actions of a generation",
                "parameters": [
                    {"name": "jobId", "in": "path", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer", "description": "Maximum number of actions (default 100)"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules": {
            "get": {
                "tags": ["Schedules"],
                "summary": "List lessons of a generation or of the active timetable",
                "parameters": [
                    {"name": "generationId", "in": "query", "type": "integer"},
                    {"name": "onlyActive", "in": "query", "type": "boolean"},
                    {"name": "semester", "in": "query", "type": "integer"},
                    {"name": "academicYear", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/export": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Download lessons as CSV",
                "produces": ["text/csv"],
                "parameters": [
                    {"name": "generationId", "in": "query", "type": "integer"},
                    {"name": "semester", "in": "query", "type": "integer"},
                    {"name": "academicYear", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "CSV file", "schema": {"type": "string"}}
                }
            }
        },
        "/schedules/analysis": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Score a stored timetable",
                "parameters": [
                    {"name": "generationId", "in": "query", "type": "integer"},
                    {"name": "semester", "in": "query", "type": "integer"},
                    {"name": "academicYear", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/groups/{id}": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Active timetable of a student group",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"$ref": "#/parameters/semester"},
                    {"$ref": "#/parameters/academicYear"},
                    {"$ref": "#/parameters/day"},
                    {"$ref": "#/parameters/weekType"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/teachers/{id}": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Active timetable of a teacher",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"$ref": "#/parameters/semester"},
                    {"$ref": "#/parameters/academicYear"},
                    {"$ref": "#/parameters/day"},
                    {"$ref": "#/parameters/weekType"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/classrooms/{id}": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Active timetable of a classroom",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"$ref": "#/parameters/semester"},
                    {"$ref": "#/parameters/academicYear"},
                    {"$ref": "#/parameters/day"},
                    {"$ref": "#/parameters/weekType"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "parameters": {
        "semester": {"name": "semester", "in": "query", "required": true, "type": "integer"},
        "academicYear": {"name": "academicYear", "in": "query", "required": true, "type": "string", "description": "e.g. 2025/2026"},
        "day": {"name": "day", "in": "query", "type": "integer", "description": "1 (Monday) to 6 (Saturday)"},
        "weekType": {"name": "weekType", "in": "query", "type": "string", "enum": ["odd", "even", "both"]}
    },
    "definitions": {
        "StartGenerationRequest": {
            "type": "object",
            "properties": {
                "semester": {"type": "integer", "minimum": 1, "maximum": 12},
                "academicYear": {"type": "string"},
                "maxIterations": {"type": "integer", "minimum": 0},
                "strategy": {"type": "string", "enum": ["local_search", "evolutionary"]}
            },
            "required": ["semester"]
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

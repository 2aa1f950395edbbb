package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Themis Scheduling API",
        "description": "Timetable optimization service with genetic and AI-assisted solvers",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Optimizations", "description": "Asynchronous optimization runs"},
        {"name": "Timetables", "description": "Versioned timetables assembled from run results"},
        {"name": "Operations", "description": "Health and metrics"}
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": ["Operations"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "tags": ["Operations"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A backing store is unreachable"}
                }
            }
        },
        "/metrics": {
            "get": {
                "tags": ["Operations"],
                "summary": "Prometheus metrics",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/metrics/system": {
            "get": {
                "tags": ["Operations"],
                "summary": "Snapshot of run and cache counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/optimizations": {
            "get": {
                "tags": ["Optimizations"],
                "summary": "List recent runs",
                "parameters": [
                    {"name": "termId", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Optimizations"],
                "summary": "Start an optimization run",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/StartOptimizationRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload"}
                }
            }
        },
        "/api/v1/optimizations/{id}": {
            "get": {
                "tags": ["Optimizations"],
                "summary": "Run status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown run"}
                }
            }
        },
        "/api/v1/optimizations/{id}/result": {
            "get": {
                "tags": ["Optimizations"],
                "summary": "Run result payload",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown run"},
                    "412": {"description": "Run has not finished"}
                }
            }
        },
        "/api/v1/optimizations/{id}/cancel": {
            "post": {
                "tags": ["Optimizations"],
                "summary": "Cancel a queued or running run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown run"},
                    "409": {"description": "Run already finished"}
                }
            }
        },
        "/api/v1/timetables": {
            "get": {
                "tags": ["Timetables"],
                "summary": "List timetables for a term",
                "parameters": [
                    {"name": "termId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Timetables"],
                "summary": "Persist a finished run as a timetable",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveTimetableRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown run"},
                    "412": {"description": "Run has not finished"}
                }
            }
        },
        "/api/v1/timetables/{id}/sessions": {
            "get": {
                "tags": ["Timetables"],
                "summary": "List sessions of a timetable",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown timetable"}
                }
            }
        },
        "/api/v1/timetables/{id}/export": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Export a timetable as CSV",
                "produces": ["text/csv"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "CSV payload"},
                    "404": {"description": "Unknown timetable"}
                }
            }
        },
        "/api/v1/timetables/{id}": {
            "delete": {
                "tags": ["Timetables"],
                "summary": "Delete a draft timetable",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Unknown timetable"},
                    "409": {"description": "Timetable is finalized"}
                }
            }
        }
    },
    "definitions": {
        "StartOptimizationRequest": {
            "type": "object",
            "properties": {
                "termId": {"type": "string"},
                "method": {"type": "string", "enum": ["genetic", "gemini", "hybrid"]},
                "days": {"type": "array", "items": {"type": "string"}},
                "timeSlots": {"type": "array", "items": {"type": "string"}},
                "balanceLoad": {"type": "boolean"},
                "minimizeGaps": {"type": "boolean"},
                "preferredTimes": {"type": "boolean"},
                "consecutiveLabs": {"type": "boolean"},
                "populationSize": {"type": "integer"},
                "generations": {"type": "integer"},
                "crossoverProb": {"type": "number"},
                "mutationProb": {"type": "number"},
                "tournamentSize": {"type": "integer"},
                "elitismRate": {"type": "number"},
                "mutationStrategy": {"type": "string", "enum": ["swap", "shift", "random"]},
                "fitnessMethod": {"type": "string", "enum": ["weighted", "penalty_based"]},
                "seed": {"type": "integer"}
            },
            "required": ["method"]
        },
        "RunResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "termId": {"type": "string"},
                "method": {"type": "string"},
                "status": {"type": "string", "enum": ["QUEUED", "RUNNING", "FINISHED", "FAILED", "CANCELLED"]},
                "progress": {"type": "integer"},
                "generation": {"type": "integer"},
                "bestFitness": {"type": "number"},
                "error": {"type": "string"},
                "createdAt": {"type": "string"},
                "startedAt": {"type": "string"},
                "finishedAt": {"type": "string"}
            }
        },
        "RunResultResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string"},
                "result": {"$ref": "#/definitions/RunResult"}
            }
        },
        "RunResult": {
            "type": "object",
            "properties": {
                "schedule": {"type": "array", "items": {"$ref": "#/definitions/Assignment"}},
                "fitness": {"type": "number"},
                "history": {"type": "array", "items": {"$ref": "#/definitions/HistoryEntry"}},
                "method": {"type": "string"},
                "seed_available": {"type": "boolean"},
                "days": {"type": "array", "items": {"type": "string"}},
                "time_slots": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Assignment": {
            "type": "object",
            "properties": {
                "entity_id": {"type": "string"},
                "day": {"type": "string"},
                "time": {"type": "string"},
                "room": {"type": "string"},
                "duration": {"type": "integer"}
            }
        },
        "HistoryEntry": {
            "type": "object",
            "properties": {
                "generation": {"type": "integer"},
                "avg_fitness": {"type": "number"},
                "max_fitness": {"type": "number"},
                "min_fitness": {"type": "number"},
                "std_fitness": {"type": "number"}
            }
        },
        "SaveTimetableRequest": {
            "type": "object",
            "properties": {
                "runId": {"type": "string"}
            },
            "required": ["runId"]
        },
        "SaveTimetableResponse": {
            "type": "object",
            "properties": {
                "timetable": {"$ref": "#/definitions/Timetable"},
                "sessionsCreated": {"type": "integer"},
                "sessionsSkipped": {"type": "integer"},
                "conflicts": {"type": "array", "items": {"$ref": "#/definitions/SessionConflict"}}
            }
        },
        "Timetable": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "term_id": {"type": "string"},
                "run_id": {"type": "string"},
                "version": {"type": "integer"},
                "status": {"type": "string", "enum": ["DRAFT", "FINALIZED", "ARCHIVED"]},
                "meta": {"type": "object"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "TimetableSessionDetail": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "timetable_id": {"type": "string"},
                "entity_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "subject_code": {"type": "string"},
                "subject_name": {"type": "string"},
                "batch_id": {"type": "string"},
                "batch_name": {"type": "string"},
                "faculty_id": {"type": "string"},
                "faculty_name": {"type": "string"},
                "room_id": {"type": "string"},
                "room_name": {"type": "string"},
                "day": {"type": "string"},
                "day_index": {"type": "integer"},
                "time_slot": {"type": "string"},
                "slot_index": {"type": "integer"},
                "duration": {"type": "integer"},
                "session_type": {"type": "string"}
            }
        },
        "SessionConflict": {
            "type": "object",
            "properties": {
                "dimension": {"type": "string"},
                "resource_id": {"type": "string"},
                "day": {"type": "string"},
                "time_slot": {"type": "string"},
                "entity_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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

package outbox

const insightRequestedSchema = `{
  "type": "object",
  "title": "InsightRequested",
  "properties": {
    "athlete_id": {"type": "string"},
    "requested_at": {"type": "string", "format": "date-time"},
    "latest": {
      "type": "object",
      "properties": {
        "date": {"type": "string", "format": "date"},
        "ctl": {"type": "number"},
        "atl": {"type": "number"},
        "tsb": {"type": "number"},
        "acwr": {"type": "number"}
      },
      "required": ["date", "ctl", "atl", "tsb", "acwr"]
    },
    "recent_activities": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "activity_id": {"type": "string"},
          "activity_type": {"type": "string"},
          "start_time": {"type": "string", "format": "date-time"},
          "duration_seconds": {"type": "number"},
          "load": {"type": "number"}
        },
        "required": ["activity_id", "start_time", "duration_seconds", "load"]
      }
    }
  },
  "required": ["athlete_id", "requested_at", "latest", "recent_activities"],
  "additionalProperties": false
}`

package types

import (
	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/devicewatch/errors"
)

// recordSchemaJSON is the wire contract for prediction records. It pins down
// the fields the reconciler depends on; unknown extra fields are allowed so
// upstream pipeline additions don't break ingestion.
const recordSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["telemetry", "final", "timestamp"],
  "properties": {
    "telemetry": {
      "type": "object",
      "properties": {
        "DeviceName": {"type": "string"},
        "DeviceType": {"type": "string"},
        "TemperatureC": {"type": "number"},
        "VibrationMM_S": {"type": "number"},
        "RuntimeHours": {"type": "number"}
      }
    },
    "final": {
      "type": "object",
      "required": ["label"],
      "properties": {
        "label": {"type": "string", "enum": ["Low", "Medium", "High"]},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "factors": {"type": "array", "items": {"type": "string"}}
      }
    },
    "azure_ml": {"$ref": "#/definitions/modelResult"},
    "local_model": {"$ref": "#/definitions/modelResult"},
    "timestamp": {"type": "string"},
    "pipeline": {"type": "string"},
    "device_name": {"type": "string"},
    "device_type": {"type": "string"}
  },
  "definitions": {
    "modelResult": {
      "type": "object",
      "properties": {
        "ok": {"type": "boolean"},
        "label": {"type": ["string", "null"]},
        "confidence": {"type": ["number", "null"]},
        "error": {"type": ["string", "null"]}
      }
    }
  }
}`

var recordSchema = mustCompileRecordSchema()

func mustCompileRecordSchema() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchemaJSON))
	if err != nil {
		panic("types: invalid embedded record schema: " + err.Error())
	}
	return schema
}

// ValidateRecordJSON checks a raw payload against the record schema without
// decoding it into a struct.
func ValidateRecordJSON(data []byte) error {
	result, err := recordSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(err, "types", "ValidateRecordJSON", "validate payload")
	}
	if !result.Valid() {
		msg := "schema violation"
		if errs := result.Errors(); len(errs) > 0 {
			msg = errs[0].String()
		}
		return errors.WrapInvalid(errors.ErrInvalidRecord, "types", "ValidateRecordJSON", msg)
	}
	return nil
}

package models

import "gorm.io/datatypes"

// JSONB stores arbitrary structured data in a Postgres jsonb column,
// backed by datatypes.JSONMap's Scanner/Valuer implementation.
type JSONB = datatypes.JSONMap

package replay

import (
	_ "embed"

	"github.com/crystal-web-archiver/crystal/core/schema"
)

//go:embed schemas/download_url.json
var downloadURLSchema string

//go:embed schemas/create_group.json
var createGroupSchema string

//go:embed schemas/preview_urls.json
var previewURLsSchema string

func newRequestValidator() (*schema.Validator, error) {
	return schema.NewValidator([]string{downloadURLSchema, createGroupSchema, previewURLsSchema}, nil)
}

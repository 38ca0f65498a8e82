package milvus

import (
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// CollectionChunks holds every generation of every document's chunks.
	CollectionChunks = "transcript_chunks"
	// CollectionDocuments holds the committed generation pointer per document.
	CollectionDocuments = "transcript_documents"

	DefaultDimension = 1536

	// Milvus requires a vector field in every collection; the pointer
	// collection carries a constant two-dimensional one.
	pointerPadDim = 2
)

func varchar(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
	}
}

func int64Field(name string) *entity.Field {
	return &entity.Field{Name: name, DataType: entity.FieldTypeInt64}
}

// ChunksSchema is the chunk collection. id is "<document_id>#<ordinal>@<generation>".
func ChunksSchema(name string, dim int) *entity.Schema {
	id := varchar("id", 256)
	id.PrimaryKey = true
	return &entity.Schema{
		CollectionName: name,
		Description:    "Oral history transcript chunks",
		Fields: []*entity.Field{
			id,
			{
				Name:       "vector",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
			varchar("document_id", 128),
			int64Field("ordinal"),
			int64Field("generation"),
			varchar("content_hash", 64),
			int64Field("start_offset"),
			int64Field("end_offset"),
			varchar("text", 65535),
			varchar("metadata", 65535),
		},
	}
}

// DocumentsSchema is the generation pointer collection.
func DocumentsSchema(name string) *entity.Schema {
	id := varchar("document_id", 128)
	id.PrimaryKey = true
	return &entity.Schema{
		CollectionName: name,
		Description:    "Committed chunk generation per document",
		Fields: []*entity.Field{
			id,
			int64Field("generation"),
			varchar("content_hash", 64),
			int64Field("chunks"),
			{
				Name:       "pad",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(pointerPadDim)},
			},
		},
	}
}

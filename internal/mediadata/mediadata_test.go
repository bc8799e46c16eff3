package mediadata_test

import (
	"strings"
	"testing"

	"github.com/snagbot/snag/internal/mediadata"
	"github.com/stretchr/testify/assert"
)

func Test_Normalize_PrimarySchema(t *testing.T) {
	t.Parallel()

	record := mediadata.Normalize(map[string]any{
		"title":       "My Video",
		"description": "A proper description body",
		"channel":     "My Channel",
		"uploader":    "uploader-name",
		"webpage_url": "https://youtube.com/watch?v=abc",
	})

	assert.Equal(t, "My Video", record.Title)
	assert.Equal(t, "My Channel", record.Source, "channel should win over uploader")
	assert.Equal(t, "A proper description body", record.Description)
	assert.Equal(t, "https://youtube.com/watch?v=abc", record.URL)
}

func Test_Normalize_UploaderFallbacks(t *testing.T) {
	t.Parallel()

	record := mediadata.Normalize(map[string]any{
		"title":    "t",
		"uploader": "some uploader",
	})
	assert.Equal(t, "some uploader", record.Source)

	// A bare uploader_id is sanitized into a display name.
	record = mediadata.Normalize(map[string]any{
		"title":       "t",
		"uploader_id": "cool_channel_name",
	})
	assert.Equal(t, "Cool Channel Name", record.Source)
}

func Test_Normalize_SecondarySchemaWithAuthorObject(t *testing.T) {
	t.Parallel()

	record := mediadata.Normalize(map[string]any{
		"author":  map[string]any{"name": "Jane Artist", "username": "janeart"},
		"content": "A long enough content body for a post",
	})

	assert.Equal(t, "Jane Artist", record.Source)
	assert.Equal(t, "A long enough content body for a post", record.Description)
	assert.Equal(t, "A long enough content body for a post", record.Title)
}

func Test_Normalize_SecondarySchemaWithAuthorString(t *testing.T) {
	t.Parallel()

	record := mediadata.Normalize(map[string]any{
		"author":  "someauthor",
		"content": "Another sufficiently long content body",
	})

	assert.Equal(t, "someauthor", record.Source)
	assert.Equal(t, "Another sufficiently long content body", record.Description)
}

func Test_Normalize_SecondarySchemaUsernameOnly(t *testing.T) {
	t.Parallel()

	record := mediadata.Normalize(map[string]any{
		"username": "galleryuser",
	})

	assert.Equal(t, "galleryuser", record.Source)
	assert.Empty(t, record.Title)
}

// The secondary schema is only consulted when the primary schema yields
// nothing at all.
func Test_Normalize_PrimarySchemaWins(t *testing.T) {
	t.Parallel()

	record := mediadata.Normalize(map[string]any{
		"title":    "Primary Title",
		"author":   "secondary-author",
		"username": "secondary-user",
	})

	assert.Equal(t, "Primary Title", record.Title)
	assert.Empty(t, record.Source)
}

func Test_Normalize_SynthesizedTitleIsTruncated(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("x", 100)
	record := mediadata.Normalize(map[string]any{
		"author":  "someone",
		"content": content,
	})

	assert.Len(t, []rune(record.Title), 63)
	assert.True(t, strings.HasSuffix(record.Title, "..."))
}

func Test_Normalize_NoiseDescriptionsAreBlanked(t *testing.T) {
	t.Parallel()

	record := mediadata.Normalize(map[string]any{
		"title":       "t",
		"description": "https://example.com/share/link",
	})
	assert.Empty(t, record.Description, "single bare URL is not a description")

	record = mediadata.Normalize(map[string]any{
		"title":       "t",
		"description": "short",
	})
	assert.Empty(t, record.Description, "sub-threshold description is noise")
}

func Test_Normalize_EmptyInput(t *testing.T) {
	t.Parallel()

	record := mediadata.Normalize(nil)
	assert.Empty(t, record.Title)
	assert.Empty(t, record.Source)
	assert.Empty(t, record.Description)
	assert.Empty(t, record.URL)
}

func Test_Caption_RendersAllSections(t *testing.T) {
	t.Parallel()

	record := mediadata.Record{
		Title:       "My Title",
		Source:      "My Channel",
		Description: "A proper description body",
	}

	expected := "```\n📁 My Title\n\n👤 My Channel\n\n📝 A proper description body\n```"
	assert.Equal(t, expected, record.Caption())
}

func Test_Caption_OmitsEmptySections(t *testing.T) {
	t.Parallel()

	record := mediadata.Record{Title: "Only Title"}
	assert.Equal(t, "```\n📁 Only Title\n```", record.Caption())

	record = mediadata.Record{Source: "Only Source"}
	assert.Equal(t, "```\n👤 Only Source\n```", record.Caption())
}

func Test_Caption_EmptyRecordUsesPlaceholder(t *testing.T) {
	t.Parallel()

	record := mediadata.Record{}
	assert.Equal(t, "```\n📥 Media downloaded\n```", record.Caption())
}

func Test_Caption_TruncatesLongDescriptions(t *testing.T) {
	t.Parallel()

	record := mediadata.Record{Description: strings.Repeat("y", 300)}
	caption := record.Caption()

	assert.Contains(t, caption, strings.Repeat("y", 200)+"...")
	assert.NotContains(t, caption, strings.Repeat("y", 201))
}

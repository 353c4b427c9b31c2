package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const advilLabel = `# Name of the Medicine
Advil

## Manufacturer
Haleon US Holdings LLC

## Active Ingredient
Ibuprofen 200 mg

## Purpose
Pain reliever/fever reducer

## Warnings
- Allergy alert: ibuprofen may cause a severe allergic reaction
`

const productDoc = `# MediTime

**Description**:
MediTime is a medication management application that includes a smart pillbox.

## 🔑 Main Features
- Automatic reminders
`

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse_MedicineLabel(t *testing.T) {
	doc := Parse("fallback name", advilLabel)

	assert.Equal(t, "Advil", doc.Name)
	assert.Equal(t, "Haleon US Holdings LLC", doc.Attributes["manufacturer"])
	assert.Equal(t, "Ibuprofen 200 mg", doc.Attributes["active_ingredient"])
	assert.Equal(t, "Allergy alert: ibuprofen may cause a severe allergic reaction", doc.Attributes["warnings"])
	assert.Equal(t, advilLabel, doc.Content)
	assert.Equal(t, DocumentID("advil"), doc.ID)
}

func TestParse_ProductDocumentUsesTitle(t *testing.T) {
	doc := Parse("meditime", productDoc)

	assert.Equal(t, "MediTime", doc.Name)
	assert.Equal(t, "Automatic reminders", doc.Attributes["main_features"])
}

func TestParse_NoHeadingKeepsDefaultName(t *testing.T) {
	doc := Parse("Children Motrin", "plain text without headings")

	assert.Equal(t, "Children Motrin", doc.Name)
	assert.Empty(t, doc.Attributes)
}

func TestDocumentID_StableAcrossCase(t *testing.T) {
	assert.Equal(t, DocumentID("Advil"), DocumentID(" advil "))
	assert.NotEqual(t, DocumentID("Advil"), DocumentID("Motrin"))
}

func TestStore_ListReadsMarkdownInOrder(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "Motrin_IB.md", "# Name of the Medicine\nMotrin IB\n")
	writeDoc(t, dir, "Advil.md", advilLabel)
	writeDoc(t, dir, "notes.json", `{"skip": 100}`)

	store, err := New(dir)
	require.NoError(t, err)

	docs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Advil", docs[0].Name)
	assert.Equal(t, "Motrin IB", docs[1].Name)
	assert.Equal(t, filepath.Join(dir, "Advil.md"), docs[0].SourcePath)
	assert.False(t, docs[0].UpdatedAt.IsZero())
}

func TestStore_ListHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "Advil.md", advilLabel)
	store, err := New(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RejectsMissingOrFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)

	file := writeDoc(t, t.TempDir(), "a.md", "x")
	_, err = New(file)
	assert.Error(t, err)
}

func TestReadFallback(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "meditime.md", "\n"+productDoc+"\n\n")

	text, err := ReadFallback(path)
	require.NoError(t, err)
	assert.Contains(t, text, "smart pillbox")

	empty := writeDoc(t, dir, "empty.md", "  \n")
	_, err = ReadFallback(empty)
	assert.Error(t, err)
}

package email

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dropMessage(t *testing.T, root, mailbox, name string, m *Message) {
	t.Helper()
	dir := filepath.Join(root, mailbox)
	require.NoError(t, os.MkdirAll(dir, 0755))
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0644))
}

func TestLocalDropClient_ListUnread(t *testing.T) {
	root := t.TempDir()
	client := NewLocalDropClient(root)

	dropMessage(t, root, "ventas@example.com", "m2.json", &Message{
		From:       "emisor@example.com",
		Subject:    "entrega de marzo",
		ReceivedAt: time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
		Attachments: []Attachment{
			{Filename: "ventas.csv", Data: []byte("producto_id\nPROD-001\n")},
		},
	})
	dropMessage(t, root, "ventas@example.com", "m1.json", &Message{
		From:       "emisor@example.com",
		Subject:    "entrega de febrero",
		ReceivedAt: time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC),
	})
	// Ficheros que no son mensajes se ignoran.
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "ventas@example.com", "LEEME.txt"), []byte("hola"), 0644))

	msgs, err := client.ListUnread(context.Background(), "ventas@example.com")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// Ordenados por fecha de recepción, con el nombre del fichero como ID.
	assert.Equal(t, "m1.json", msgs[0].ID)
	assert.Equal(t, "m2.json", msgs[1].ID)
	assert.Equal(t, "entrega de marzo", msgs[1].Subject)
	require.Len(t, msgs[1].Attachments, 1)
	assert.Equal(t, "ventas.csv", msgs[1].Attachments[0].Filename)
	assert.Equal(t, []byte("producto_id\nPROD-001\n"), msgs[1].Attachments[0].Data)
}

func TestLocalDropClient_MarkProcessedHidesMessage(t *testing.T) {
	root := t.TempDir()
	client := NewLocalDropClient(root)

	dropMessage(t, root, "ventas@example.com", "m1.json", &Message{From: "emisor@example.com"})

	require.NoError(t, client.MarkProcessed(context.Background(), "ventas@example.com", "m1.json"))

	msgs, err := client.ListUnread(context.Background(), "ventas@example.com")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// El mensaje queda archivado en el subdirectorio leido/.
	_, err = os.Stat(filepath.Join(root, "ventas@example.com", "leido", "m1.json"))
	assert.NoError(t, err)
}

func TestLocalDropClient_MissingMailboxIsQuiet(t *testing.T) {
	client := NewLocalDropClient(t.TempDir())

	msgs, err := client.ListUnread(context.Background(), "nadie@example.com")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLocalDropClient_CorruptMessageIsAnError(t *testing.T) {
	root := t.TempDir()
	client := NewLocalDropClient(root)

	dir := filepath.Join(root, "ventas@example.com")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roto.json"), []byte("{no es json"), 0644))

	_, err := client.ListUnread(context.Background(), "ventas@example.com")
	assert.Error(t, err)
}

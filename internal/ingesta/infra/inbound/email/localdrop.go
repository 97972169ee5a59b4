package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalDropClient implementa MailClient sobre un directorio local: cada buzón
// es un subdirectorio con el nombre de la dirección y cada mensaje un fichero
// JSON con la forma de Message (adjuntos en base64, como serializa
// encoding/json los []byte). Sirve para despliegues locales y tests, igual
// que el canal sftp se sirve de un directorio montado. Los mensajes
// procesados se mueven a `leido/` dentro del buzón.
type LocalDropClient struct {
	root string
}

func NewLocalDropClient(root string) *LocalDropClient {
	return &LocalDropClient{root: root}
}

func (c *LocalDropClient) ListUnread(ctx context.Context, mailbox string) ([]*Message, error) {
	dir := filepath.Join(c.root, mailbox)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []*Message
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("mensaje %s ilegible: %w", e.Name(), err)
		}
		// El nombre del fichero es el identificador del mensaje.
		m.ID = e.Name()
		if m.ReceivedAt.IsZero() {
			if info, err := e.Info(); err == nil {
				m.ReceivedAt = info.ModTime()
			}
		}
		msgs = append(msgs, &m)
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt) })
	return msgs, nil
}

func (c *LocalDropClient) MarkProcessed(ctx context.Context, mailbox, messageID string) error {
	dir := filepath.Join(c.root, mailbox)
	dst := filepath.Join(dir, "leido")
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	return os.Rename(filepath.Join(dir, messageID), filepath.Join(dst, messageID))
}

var _ MailClient = (*LocalDropClient)(nil)

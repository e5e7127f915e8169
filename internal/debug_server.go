package internal

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

//go:embed inspect.html
var templatesFS embed.FS

const defaultPrefix = "profile:"

type InspectRow struct {
	Key       string
	Namespace string
	EntityID  string
	Timestamp string
	Detail    string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// NewDebugServer serves a read-only view of the badger keys under a prefix at endpoint.
// The caller owns the returned server.
func NewDebugServer(log *slog.Logger, db *badger.DB, addr, endpoint string, mapper RowMapper, statsProvider StatsProvider) *http.Server {
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))
	if mapper == nil {
		mapper = DefaultMapper
	}

	mux := http.NewServeMux()
	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = defaultPrefix
		}
		data := PageData{Prefix: prefix, Stats: make(map[string]any)}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		err := db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				err := item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapper(string(item.Key()), val))
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Warn("Unable to scan badger", "prefix", prefix, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			log.Warn("Unable to render inspector", "error", err)
		}
	})

	return &http.Server{Addr: addr, Handler: mux}
}

// DefaultMapper splits keys shaped like namespace:id.
func DefaultMapper(key string, val []byte) InspectRow {
	row := InspectRow{
		Key:       key,
		Namespace: "default",
		EntityID:  "--------",
		Timestamp: "--:--:--",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}
	if namespace, id, ok := strings.Cut(key, ":"); ok {
		row.Namespace = namespace
		row.EntityID = id
	}
	return row
}

package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/spf13/cobra"
)

//go:embed posts.yaml
var examplePostsSchema string

const configTemplate = `# chronicle config
provider: {{ .provider }}
providerParams:
{{- if eq .provider "badger" }}
  storage_path: {{ .storagePath | quote }}
{{- else }}
  pd_addr: [{{ .pdAddr | quote }}]
{{- end }}
maxHistory: {{ .maxHistory }}
staleness: {{ .staleness | quote }}
compactInterval: {{ .compactInterval | quote }}
logLevel: {{ .logLevel | lower }}
documentPattern: {{ printf "%s*" (trimSuffix "*" .prefix) | quote }}
schemaCollection: {{ .schemaCollection | quote }}
feed: {{ .feed }}
{{- if eq .feed "redis" }}
redisAddr: {{ .redisAddr | quote }}
{{- end }}
`

func initCmd() *cobra.Command {
	var (
		projectPath string
		values      = map[string]any{}
		provider    string
		storage     string
		pdAddr      string
		maxHistory  int
		staleness   string
		compact     string
		logLevel    string
		prefix      string
		collection  string
		feed        string
		redisAddr   string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "create a chronicle config file and an example bucket schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(filepath.Join(projectPath, "schema"), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(projectPath, "schema", "posts.yaml"), []byte(examplePostsSchema), 0644); err != nil {
				return err
			}
			tmpl, err := template.New("config").Funcs(sprig.TxtFuncMap()).Parse(configTemplate)
			if err != nil {
				return err
			}
			f, err := os.Create(filepath.Join(projectPath, "chronicle.yaml"))
			if err != nil {
				return err
			}
			defer f.Close()
			values["provider"] = provider
			values["storagePath"] = storage
			values["pdAddr"] = pdAddr
			values["maxHistory"] = maxHistory
			values["staleness"] = staleness
			values["compactInterval"] = compact
			values["logLevel"] = logLevel
			values["prefix"] = prefix
			values["schemaCollection"] = collection
			values["feed"] = feed
			values["redisAddr"] = redisAddr
			if err := tmpl.Execute(f, values); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "new project created: %v\n", projectPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectPath, "path", "p", ".", "path to project directory")
	cmd.Flags().StringVar(&provider, "provider", "badger", "kv provider (badger or tikv)")
	cmd.Flags().StringVar(&storage, "storage-path", "./tmp", "badger storage path")
	cmd.Flags().StringVar(&pdAddr, "pd-addr", "localhost:2379", "tikv placement driver address")
	cmd.Flags().IntVar(&maxHistory, "max-history", 10, "histories kept per document")
	cmd.Flags().StringVar(&staleness, "staleness", "2s", "snapshot reader staleness")
	cmd.Flags().StringVar(&compact, "compact-interval", "1m", "compaction interval")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&prefix, "collection-prefix", "bucket_", "collection prefix of bucket documents")
	cmd.Flags().StringVar(&collection, "schema-collection", "buckets", "collection of bucket schemas")
	cmd.Flags().StringVar(&feed, "feed", "kv", "change feed transport (kv or redis)")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address")
	return cmd
}

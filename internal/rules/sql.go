package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/leapstack-labs/leapclean/pkg/core"
)

var funcs = template.FuncMap{
	"join": strings.Join,
}

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text))
}

// render executes a statement template. The templates are static and the data
// is built by the rule itself, so a failure here is a programming error.
func render(tmpl *template.Template, data any) string {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		panic(fmt.Sprintf("render %s: %v", tmpl.Name(), err))
	}
	return strings.TrimSpace(b.String())
}

// queryCount runs a single-value COUNT query.
func queryCount(ctx context.Context, client core.StoreClient, query string) (int64, error) {
	rows, err := client.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("count query returned no rows")
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Err()
}

// execute runs a setup statement and waits for it.
func execute(ctx context.Context, client core.StoreClient, statement string) error {
	job, err := client.Execute(ctx, statement)
	if err != nil {
		return err
	}
	return job.Wait(ctx)
}

// tableColumns lists the columns of a table of the active dataset, or returns
// nil when the client cannot introspect.
func tableColumns(ctx context.Context, client core.StoreClient, dataset, table string) ([]string, error) {
	lister, ok := client.(core.ColumnLister)
	if !ok {
		return nil, nil
	}
	cols, err := lister.Columns(ctx, dataset, table)
	if errors.Is(err, core.ErrUnsupported) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names, nil
}

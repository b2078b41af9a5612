package simplevideo

import (
	"fmt"
	"path"
	"strings"
	"text/template"
)

var bootScripts = template.Must(template.New("boot").Funcs(template.FuncMap{
	"q": shellQuote,
}).Parse(`{{define "created"}}#cloud-boothook
#!/bin/bash
set -euo pipefail
mkdir -p {{q .Dir}}
aws s3 cp {{q .Source}} {{q .Target}}
systemctl restart {{q .Service}}
{{end}}{{define "removed"}}#cloud-boothook
#!/bin/bash
set -euo pipefail
rm -f {{q .Target}}
systemctl restart {{q .Service}}
{{end}}`))

type bootScriptData struct {
	Dir     string
	Source  string
	Target  string
	Service string
}

// renderBootScript returns the boot script that makes the serving host adopt
// (created) or drop (removed) the target asset.
func renderBootScript(kind EventKind, target SyncTarget, webRoot, namespace, service string) (string, error) {
	dir := path.Join(webRoot, namespace)
	data := bootScriptData{
		Dir:     dir,
		Source:  fmt.Sprintf("s3://%s/%s", target.Bucket, target.Key),
		Target:  path.Join(dir, target.Filename),
		Service: service,
	}

	var b strings.Builder
	if err := bootScripts.ExecuteTemplate(&b, string(kind), data); err != nil {
		return "", fmt.Errorf("render %s boot script: %w", kind, err)
	}
	return b.String(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

package export

import (
	"bytes"
	"embed"
	"html/template"
	"strconv"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var summaryTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"money": func(v *float64) string {
			if v == nil {
				return "—"
			}
			return "$" + strconv.FormatFloat(*v, 'f', 2, 64)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/summary.html")
	if err != nil {
		// Fallback to built-in template if file not found
		summaryTemplate = template.Must(template.New("summary").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	summaryTemplate = template.Must(template.New("summary").Funcs(funcMap).Parse(string(templateContent)))
}

// RenderSummaryHTML renders the family summary template.
func RenderSummaryHTML(data Summary) (string, error) {
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.FamilyName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    table { width: 100%; border-collapse: collapse; }
    th, td { border-bottom: 1px solid #ddd; text-align: left; padding: 0.4rem; }
  </style>
</head>
<body>
  <h1>{{.FamilyName}}</h1>
  <p>{{.PrimaryContactEmail}} | {{.GeneratedAt.Format "Jan 2, 2006"}}</p>
  <h2>Members</h2>
  <table>
  {{range .Members}}<tr><td>{{.Name}}</td><td>{{.Email}}</td><td>{{.Relationship}}</td></tr>{{end}}
  </table>
  <h2>Policies</h2>
  <table>
  {{range .Policies}}<tr><td>{{.PolicyType}}</td><td>{{.PolicyNumber}}</td><td>{{.Status}}</td><td>{{money .PremiumAmount}}</td></tr>{{end}}
  </table>
</body>
</html>`

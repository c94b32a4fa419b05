package rest

const (
	tplList     = "rest_list.html"
	tplObject   = "rest_object.html"
	tplRequests = "rest_requests.html"
)

// BuiltinTemplates are the Jet templates of the HTML representations.
var BuiltinTemplates = map[string]string{
	tplList:     listTemplate,
	tplObject:   objectTemplate,
	tplRequests: requestsTemplate,
}

const htmlHead = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>GeoServe REST: {{ .Title }}</title>
  <style>body{font-family:sans-serif;margin:2em} th{text-align:left;padding-right:1em} td,th{border-bottom:1px solid #ddd}</style>
</head>
<body>
<h2>{{ .Title }}</h2>
`

const listTemplate = htmlHead + `{{ if len(.Items) == 0 }}<p>No {{ .Title }} configured.</p>
{{ else }}<ul>
{{ range i, item := .Items }}  <li>{{ if item.Href }}<a href="{{ item.Href }}">{{ item.Name }}</a>{{ else }}{{ item.Name }}{{ end }}</li>
{{ end }}</ul>
{{ end }}</body>
</html>
`

const objectTemplate = htmlHead + `<table>
{{ range i, f := .Fields }}  <tr><th>{{ f.Name }}</th><td>{{ if f.Href }}<a href="{{ f.Href }}">{{ f.Value }}</a>{{ else }}{{ f.Value }}{{ end }}</td></tr>
{{ end }}</table>
</body>
</html>
`

const requestsTemplate = htmlHead + `<table>
  <tr><th>ID</th><th>Status</th><th>Category</th><th>Method</th><th>Path</th><th>Start</th><th>Time (ms)</th><th>HTTP</th></tr>
{{ range i, q := .Requests }}  <tr><td><a href="{{ q.Href }}">{{ q.ID }}</a></td><td>{{ q.Status }}</td><td>{{ q.Category }}</td><td>{{ q.HTTPMethod }}</td><td>{{ q.Path }}</td><td>{{ q.Start }}</td><td>{{ q.TotalTime }}</td><td>{{ q.ResponseStatus }}</td></tr>
{{ end }}</table>
</body>
</html>
`

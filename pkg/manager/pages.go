// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

// commonPage wraps every page body (%s) with the header and navigation.
const commonPage = `<!doctype html>
<html>
<head>
	<title>{{.Name}} {{.PageTitle}}</title>
	{{HEAD}}
</head>
<body>
<div class="navigation">
	<b>{{.Name}}</b>
	<a href="/">summary</a>
	<a href="/corpus">corpus</a>
	<a href="/crashes">crashes</a>
	<a href="/config">config</a>
	<a href="/metrics">metrics</a>
	<a href="/corpus.db">corpus.db</a>
	<a href="/action?toggle=expert&url={{.CurrentURL}}">{{if .ExpertMode}}basic{{else}}expert{{end}}</a>
	<span>campaign {{.CampaignID}}, uptime {{formatDuration .Uptime}}</span>
</div>
%s
</body>
</html>`

const crashListTable = `{{define "crash_list"}}
<table>
	<caption>Crashes:</caption>
	<tr>
		<th>Description</th>
		<th>Channel</th>
		<th>Count</th>
		<th>Workers</th>
		<th>First</th>
		<th>Last</th>
		<th>Report</th>
	</tr>
	{{range $c := .}}
	<tr>
		<td>{{link (printf "/crash?id=%v" $c.ID) $c.Description}}{{if $c.New}} <b class="positive">new</b>{{end}}</td>
		<td>{{$c.Channel}}</td>
		<td>{{$c.Count}}</td>
		<td>{{range $w := $c.Workers}}{{$w}} {{end}}</td>
		<td>{{formatTime $c.FirstTime}}</td>
		<td>{{formatTime $c.LastTime}}</td>
		<td><a href="/report?id={{$c.ID}}">report</a></td>
	</tr>
	{{end}}
</table>
{{end}}`

const mainPage = crashListTable + `
<table>
	<caption>Stats:</caption>
	{{range $s := $.Stats}}
	<tr>
		<td title="{{$s.Hint}}">{{$s.Name}}</td>
		<td>{{$s.Value}}</td>
	</tr>
	{{end}}
</table>
<table>
	<caption>Workers:</caption>
	<tr>
		<th>ID</th>
		<th>Generation</th>
		<th>State</th>
		<th>Since</th>
		<th>Restarts</th>
		<th>PID</th>
	</tr>
	{{range $w := $.Workers}}
	<tr>
		<td>{{$w.ID}}</td>
		<td>{{formatShort $w.Generation}}</td>
		<td>{{$w.State}}</td>
		<td>{{formatDuration $w.Since}}</td>
		<td>{{$w.Restarts}}</td>
		<td>{{$w.PID}}</td>
	</tr>
	{{end}}
</table>
{{template "crash_list" $.Crashes}}
<b>Log:</b>
<pre>{{.Log}}</pre>`

const crashesPage = crashListTable + `{{template "crash_list" $.Crashes}}`

const crashPage = `
<h3>{{.Description}}</h3>
<p>
	kind: {{.Kind}}, channel: {{.Channel}}, location: {{.Location}}<br>
	count: {{.Count}}, first: {{formatTime .FirstTime}}, last: {{formatTime .LastTime}}<br>
	<a href="/report?id={{.ID}}">report</a>
</p>
<table>
	<caption>Reproducers:</caption>
	<tr>
		<th>#</th>
		<th>Input</th>
		<th>Log</th>
		<th>Time</th>
	</tr>
	{{range $c := .Crashes}}
	<tr>
		<td>{{$c.Index}}</td>
		<td><a href="/input?id={{$.ID}}&index={{$c.Index}}">input</a></td>
		<td>{{if $c.Log}}<a href="/log?name={{$c.Log}}">log</a>{{end}}</td>
		<td>{{formatTime $c.Time}}{{if $c.Active}} <b class="positive">active</b>{{end}}</td>
	</tr>
	{{end}}
</table>`

const corpusPage = `
<p>
	entries: {{.Stats.Entries}}, favored: {{.Stats.Favored}},
	signal: {{.Stats.Signal}}, bytes: {{.Stats.Bytes}}
</p>
<table>
	<caption>Corpus:</caption>
	<tr>
		<th>ID</th>
		<th>Size</th>
		<th>Signal</th>
		<th>Exec time</th>
		<th>Favored</th>
		<th>Worker</th>
		<th>Added</th>
	</tr>
	{{range $inp := .Inputs}}
	<tr>
		<td><a href="/input?corpus={{$inp.ID}}">{{formatShort $inp.ID}}</a></td>
		<td>{{$inp.Size}}</td>
		<td>{{$inp.Signal}}</td>
		<td>{{$inp.ExecTime}}</td>
		<td>{{if $inp.Favored}}*{{end}}</td>
		<td>{{$inp.Worker}}</td>
		<td>{{formatTime $inp.Added}}</td>
	</tr>
	{{end}}
</table>`

const textPage = `<pre>{{printf "%s" .Text}}</pre>`

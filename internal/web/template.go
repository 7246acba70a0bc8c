package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/mailbox-node/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"level": func(high bool) string {
		if high {
			return "1"
		}
		return "0"
	},
}).Parse(indexHTML))

// formatUptime renders d with its two most significant units, e.g. "3d 4h".
func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	h := int(d/time.Hour) % 24
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, h)
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Mailbox Node</title>
<style>
body { font: 14px/1.4 monospace; max-width: 40em; margin: 1.5em auto; padding: 0 1em; color: #222; }
h1 { font-size: 1.3em; margin-bottom: 0.2em; }
h2 { font-size: 1.05em; margin: 1.4em 0 0.3em; border-bottom: 2px solid #444; }
table { border-collapse: collapse; width: 100%; }
td, th { text-align: left; padding: 3px 6px; }
th { width: 14em; font-weight: normal; color: #555; }
.pins td { text-align: center; width: 3em; border: 1px solid #ccc; }
.hi { background: #cfc; }
.ok { color: #080; }
.bad { color: #c00; }
.failed { color: #c00; font-weight: bold; }
#live-dot { display: inline-block; width: 0.6em; height: 0.6em; border-radius: 50%; margin-left: 0.4em; background: #e90; }
#live-dot.ok { background: #080; }
#live-dot.bad { background: #c00; }
</style>
</head>
<body>
<h1>Mailbox Node<span id="live-dot" title="connecting"></span></h1>

<h2>Sensors</h2>
{{if .Sampled}}<table class="pins"><tr>{{range .Current}}<td class="{{if .}}hi{{end}}">{{level .}}</td>{{end}}</tr></table>{{end}}
<table>
<tr><th>Current</th><td id="irs">{{if .Sampled}}{{.Current.Code}}{{else}}UNKNOWN{{end}}</td></tr>
<tr><th>Last reported</th><td id="previous">{{if .Sampled}}{{.Previous.Code}}{{else}}UNKNOWN{{end}}</td></tr>
<tr><th>Failure streak</th><td id="streak">{{.FailureStreak}}</td></tr>
</table>

<h2>Association</h2>
<table>
<tr><th>State</th><td class="{{if .Ready}}ok{{else if eq .Association.State "ASSOCIATION_FAILED"}}failed{{else}}bad{{end}}">{{.Association.State}}</td></tr>
<tr><th>Retries</th><td>{{.Association.Retries}} / {{.Config.MaxFailures}}</td></tr>
{{if .Association.Address}}<tr><th>Address</th><td>{{.Association.Address}}</td></tr>{{end}}
{{if .Association.Reason}}<tr><th>Last disconnect</th><td>{{.Association.Reason}}</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.SSID}} on {{.Network.Interface}}</td></tr>{{end}}
</table>
{{if eq .Association.State "ASSOCIATION_FAILED"}}<form method="post" action="/api/reprovision"><button type="submit">Re-provision</button></form>{{end}}

<h2>Telemetry</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}ok{{else}}bad{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Transitions</th><td id="transitions">{{.Counts.Transitions}}</td></tr>
<tr><th>Delivered</th><td id="delivered">{{.Counts.Delivered}}</td></tr>
<tr><th>Failed</th><td id="failed">{{.Counts.Failed}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Report timeout</th><td>{{.Config.ReportTimeoutMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Endpoint</th><td>{{.Config.ReportURL}}</td></tr>
<tr><th>Provisioning</th><td>{{.Config.ProvisioningMode}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = cls;
    dot.title = title;
  }
  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws-api/snapshots");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("bad", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        document.getElementById("irs").textContent = msg.irs;
        if (msg.outcome === "SUCCESS") {
          document.getElementById("previous").textContent = msg.irs;
        }
        document.getElementById("streak").textContent = msg.failure_streak;
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	return indexTmpl.Execute(w, struct {
		status.Snapshot
		Uptime time.Duration
	}{snap, snap.Uptime()})
}

package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/grow-controller/internal/gpio"
	"github.com/sweeney/grow-controller/internal/logic"
	"github.com/sweeney/grow-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"hour": func(h int) string {
		return fmt.Sprintf("%02d:00", h)
	},
	"lower": func(s fmt.Stringer) string {
		switch s.String() {
		case "MINOR":
			return "minor"
		case "MAJOR":
			return "major"
		}
		return "normal"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Grow Controller{{if .Config.Site}} - {{.Config.Site}}{{end}}</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.normal { color: green; }
.minor { color: orange; font-weight: bold; }
.major { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Grow Controller{{if .Config.Site}} ({{.Config.Site}}){{end}}{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Controller</h2>
<table>
<tr><th>Error state</th><td id="error-state" class="{{lower .Controller.ErrorState}}">{{.Controller.ErrorState}}{{if .Controller.Halted}} (halted until restart){{end}}</td></tr>
<tr><th>Wall clock</th><td>{{if .Controller.ClockKnown}}{{.Controller.Clock.Date}} {{hour .Controller.Clock.Hour}} {{.Controller.Clock.Weekday}}{{else}}unknown{{end}}{{if not .Controller.TimeAvailable}} <span class="minor">(time unavailable)</span>{{end}}</td></tr>
<tr><th>Last event</th><td id="last-event">{{if .LastEvent}}{{.LastEvent.Type}} at {{.LastEvent.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}}{{else}}none{{end}}</td></tr>
</table>

<h2>Outputs</h2>
<table>
{{range .Outputs}}<tr><th>{{.Name}}</th><td class="{{if .On}}on{{else}}off{{end}}">{{if .On}}ON{{else}}OFF{{end}}</td></tr>
{{end}}</table>

<h2>Schedule</h2>
<table>
<tr><th>Light</th><td>{{hour .Config.Light.Start}} for {{.Config.Light.OnHours}}h, never past {{hour .Config.Light.End}}</td></tr>
{{range .Rules}}<tr><th>{{.ID}}</th><td>{{hour .Hour}} {{.Cadence}}, {{.Channel}} up to {{.Timeout}}{{if .Fired}} <span class="on">done today</span>{{end}}{{if .Outcome}} (last: {{.Outcome}}){{end}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Boot</th><td>{{.BootID}}</td></tr>
<tr><th>Timezone</th><td>{{.Config.Timezone}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Ticks</th><td>{{.Controller.Ticks}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<div id="live" data-broker="{{.Config.WSBroker}}" data-topic="{{.Config.EventsTopic}}" hidden></div>
<script src="https://unpkg.com/mqtt@5/dist/mqtt.min.js"></script>
<script>
(function() {
  var live = document.getElementById("live");
  var broker = live.dataset.broker;
  var topic = live.dataset.topic;
  var dot = document.getElementById("live-dot");
  var lastEl = document.getElementById("last-event");
  var errEl = document.getElementById("error-state");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });
  client.on("reconnect", function() { setDot("pending", "reconnecting"); });
  client.on("offline", function() { setDot("err", "offline"); });
  client.on("error", function() { setDot("err", "error"); });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.grow) {
        lastEl.textContent = msg.grow.event + " at " + msg.grow.timestamp;
        errEl.textContent = msg.grow.error_state;
        errEl.className = msg.grow.error_state.toLowerCase();
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

type outputRow struct {
	Name string
	On   bool
}

type ruleRow struct {
	status.RuleInfo
	Fired   bool
	Outcome logic.Outcome
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	var outputs []outputRow
	for _, ch := range append(append([]gpio.Channel{}, gpio.Actuators...), gpio.Indicators...) {
		outputs = append(outputs, outputRow{Name: string(ch), On: snap.Controller.Outputs[ch]})
	}

	var rules []ruleRow
	for _, r := range snap.Config.Rules {
		row := ruleRow{RuleInfo: r, Fired: snap.Controller.Fired[r.ID]}
		if res, ok := snap.Controller.LastResults[gpio.Channel(r.Channel)]; ok {
			row.Outcome = res.Outcome
		}
		rules = append(rules, row)
	}

	// Snapshot has an Uptime() method but the template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Outputs []outputRow
		Rules   []ruleRow
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Outputs:  outputs,
		Rules:    rules,
	}
	return indexTmpl.Execute(w, data)
}

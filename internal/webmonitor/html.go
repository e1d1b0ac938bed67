package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Driver Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #111; color: #eee; }
        .app { max-width: 1200px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; margin-top: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        .badge { padding: 4px 10px; border-radius: 12px; margin-right: 6px; background: #333; color: #888; font-weight: 600; }
        .badge.on.drowsiness { background: #d00; color: #fff; }
        .badge.on.yawning { background: #03d; color: #fff; }
        .badge.on.phone { background: #dd0; color: #000; }
        .metric { display: flex; justify-content: space-between; padding: 4px 0; border-bottom: 1px solid #2a2a2a; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td, th { text-align: left; padding: 4px; border-bottom: 1px solid #2a2a2a; }
        img { width: 100%; background: #000; }
        a { color: #6af; }
    </style>
</head>
<body>
<div class="app">
    <div class="header">
        <h1>Driver Monitor</h1>
        <div>
            <span class="badge drowsiness" id="badge-drowsiness">DROWSINESS</span>
            <span class="badge yawning" id="badge-yawning">YAWNING</span>
            <span class="badge phone" id="badge-phone">PHONE</span>
        </div>
    </div>
    <div class="grid">
        <div class="panel">
            <img id="stream" src="/stream" alt="Live feed">
        </div>
        <div class="panel">
            <h2>Status</h2>
            <div class="metric"><span>Session</span><span id="session">-</span></div>
            <div class="metric"><span>Frame</span><span id="frame">-</span></div>
            <div class="metric"><span>FPS</span><span id="fps">-</span></div>
            <div class="metric"><span>Faces</span><span id="faces">-</span></div>
            <div class="metric"><span>EAR</span><span id="ear">-</span></div>
            <div class="metric"><span>Mouth distance</span><span id="mouth">-</span></div>
            <div class="metric"><span>Events logged</span><span id="events-total">0</span></div>
            <p><a href="/api/report.csv">Download report</a></p>
        </div>
    </div>
    <div class="panel" style="margin-top:16px;">
        <h2>Event log</h2>
        <table>
            <thead><tr><th>Time</th><th>Event</th><th>EAR</th><th>Details</th></tr></thead>
            <tbody id="events"></tbody>
        </table>
    </div>
</div>
<script>
    const kinds = ["drowsiness", "yawning", "phone"];
    const flags = {drowsiness: "drowsy", yawning: "yawning", phone: "phone"};

    function renderStatus(p) {
        const s = p.status || {};
        for (const k of kinds) {
            document.getElementById("badge-" + k).classList.toggle("on", !!s[flags[k]]);
        }
        document.getElementById("session").textContent = p.session ? p.session.id.slice(0, 8) : "-";
        document.getElementById("frame").textContent = s.frame_number ?? "-";
        document.getElementById("fps").textContent = (p.monitor.current_fps || 0).toFixed(1);
        document.getElementById("faces").textContent = s.faces ?? 0;
        document.getElementById("ear").textContent = s.faces ? s.ear.toFixed(3) : "-";
        document.getElementById("mouth").textContent = s.faces ? s.mouth_distance.toFixed(1) : "-";
        document.getElementById("events-total").textContent = p.monitor.events_logged;
    }

    function addEvent(e) {
        const row = document.createElement("tr");
        for (const v of [e.timestamp, e.event_type, e.ear_value ?? "", e.details ?? ""]) {
            const td = document.createElement("td");
            td.textContent = v;
            row.appendChild(td);
        }
        const body = document.getElementById("events");
        body.insertBefore(row, body.firstChild);
        while (body.children.length > 100) body.removeChild(body.lastChild);
    }

    fetch("/api/events").then(r => r.json()).then(d => d.events.forEach(addEvent));
    new EventSource("/api/status/stream").onmessage = m => renderStatus(JSON.parse(m.data));
    new EventSource("/api/events/stream").onmessage = m => addEvent(JSON.parse(m.data));
</script>
</body>
</html>
`

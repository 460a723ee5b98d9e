package handlers

import (
	"net/http"
	"strings"

	"github.com/pysugar/search-insights/internal/version"
)

func init() {
	dashboardHTML = strings.ReplaceAll(dashboardHTML, "{{VERSION}}", version.Version)
}

// DashboardHandler serves the single-page dashboard.
func DashboardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(dashboardHTML))
	}
}

var dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Search Insights</title>
    <style>
        body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 1100px; color: #222; }
        header { display: flex; justify-content: space-between; align-items: center; }
        form { display: grid; grid-template-columns: repeat(4, 1fr); gap: .5rem; margin: 1rem 0; }
        table { border-collapse: collapse; width: 100%; font-size: .9rem; }
        th, td { border-bottom: 1px solid #ddd; padding: .3rem .5rem; text-align: left; }
        .muted { color: #888; font-size: .8rem; }
        .error { color: #b00020; }
    </style>
</head>
<body>
<header>
    <h1>Search Insights</h1>
    <div id="account"><a href="/auth/google/login">Connect Google account</a></div>
</header>
<form id="report">
    <select id="site" required></select>
    <input id="start" type="date" required>
    <input id="end" type="date" required>
    <input id="dims" value="query,page" title="dimensions">
    <label><input id="intent" type="checkbox"> classify intent</label>
    <label><input id="force" type="checkbox"> bypass cache</label>
    <button type="submit">Run report</button>
    <span>
        <button type="button" id="csv">CSV</button>
        <button type="button" id="sheets">Sheets</button>
    </span>
</form>
<p id="status" class="muted"></p>
<table id="rows"></table>
<p class="muted">version {{VERSION}}</p>
<script>
const $ = id => document.getElementById(id);

function body() {
    return {
        site_url: $('site').value,
        start_date: $('start').value,
        end_date: $('end').value,
        dimensions: $('dims').value.split(',').map(s => s.trim()).filter(Boolean),
        force: $('force').checked,
        with_intent: $('intent').checked,
    };
}

async function post(path, payload) {
    const res = await fetch(path, {method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify(payload)});
    if (!res.ok) {
        const err = await res.json().catch(() => ({error: {message: res.statusText}}));
        throw new Error(err.error.message);
    }
    return res;
}

function render(rep) {
    const intents = rep.intents || [];
    const head = [...rep.dimensions, 'clicks', 'impressions', 'ctr', 'position'];
    if (intents.length) head.push('intent', 'category', 'funnel stage');
    const rows = rep.rows.map((r, i) => {
        const cells = [...r.keys, r.clicks, r.impressions, (r.ctr * 100).toFixed(2) + '%', r.position.toFixed(1)];
        if (intents.length) cells.push(intents[i].intent, intents[i].category, intents[i].funnel_stage);
        return '<tr>' + cells.map(c => '<td>' + String(c).replace(/</g, '&lt;') + '</td>').join('') + '</tr>';
    });
    $('rows').innerHTML = '<tr>' + head.map(h => '<th>' + h + '</th>').join('') + '</tr>' + rows.join('');
    $('status').textContent = rep.rows.length + ' rows' + (rep.cached ? ' (cached ' + rep.created_at + ')' : '');
}

async function init() {
    const me = await fetch('/api/me');
    if (!me.ok) return;
    const acct = await me.json();
    $('account').innerHTML = acct.email + ' <button id="logout">Sign out</button>';
    $('logout').onclick = async () => { await fetch('/auth/logout', {method: 'POST'}); location.reload(); };
    const sites = await (await fetch('/api/sites')).json();
    $('site').innerHTML = sites.sites.map(s => '<option>' + s.siteUrl + '</option>').join('');
    const end = new Date(Date.now() - 3 * 864e5), start = new Date(end - 27 * 864e5);
    $('end').value = end.toISOString().slice(0, 10);
    $('start').value = start.toISOString().slice(0, 10);
}

$('report').onsubmit = async e => {
    e.preventDefault();
    $('status').textContent = 'loading...';
    try {
        const b = body();
        const res = await post(b.with_intent ? '/api/reports/intent' : '/api/reports', b);
        render(await res.json());
    } catch (err) {
        $('status').innerHTML = '<span class="error">' + err.message + '</span>';
    }
};

$('csv').onclick = async () => {
    try {
        const blob = await (await post('/api/reports/export/csv', body())).blob();
        const a = document.createElement('a');
        a.href = URL.createObjectURL(blob);
        a.download = 'report.csv';
        a.click();
    } catch (err) {
        $('status').innerHTML = '<span class="error">' + err.message + '</span>';
    }
};

$('sheets').onclick = async () => {
    try {
        const out = await (await post('/api/reports/export/sheets', body())).json();
        window.open(out.url, '_blank');
    } catch (err) {
        $('status').innerHTML = '<span class="error">' + err.message + '</span>';
    }
};

init();
</script>
</body>
</html>
`

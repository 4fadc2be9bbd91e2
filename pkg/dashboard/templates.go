package dashboard

// HTML templates for the dashboard pages.
// These are embedded as strings and parsed at runtime.

const layoutTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>intcode node</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <link rel="stylesheet" href="/static/style.css">
</head>
<body class="bg-gray-900 text-gray-100 min-h-screen">
    <nav class="bg-gray-800 border-b border-gray-700 sticky top-0 z-50">
        <div class="container mx-auto px-4">
            <div class="flex items-center justify-between h-16">
                <div class="flex items-center space-x-8">
                    <a href="/" class="text-xl font-bold text-white mono">intcode</a>
                    <div class="flex items-center space-x-4">
                        <a href="/" class="px-3 py-2 rounded-md text-sm font-medium {{if eq .PageName "home"}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700 hover:text-white{{end}}">Overview</a>
                        <a href="/images" class="px-3 py-2 rounded-md text-sm font-medium {{if or (eq .PageName "images") (eq .PageName "image")}}bg-gray-900 text-white{{else}}text-gray-300 hover:bg-gray-700 hover:text-white{{end}}">Images</a>
                    </div>
                </div>
                <div id="node-status" class="flex items-center space-x-2">
                    <span class="w-2 h-2 rounded-full bg-green-500"></span>
                    <span class="text-sm text-gray-300">Running</span>
                </div>
            </div>
        </div>
    </nav>

    <main class="container mx-auto px-4 py-6">
        {{.Content}}
    </main>

    <footer class="bg-gray-800 border-t border-gray-700 mt-8 py-4">
        <div class="container mx-auto px-4 text-center text-gray-400 text-sm">
            intcode node | <span id="current-time"></span>
        </div>
    </footer>

    <script src="/static/app.js"></script>
</body>
</html>`

const homeTemplate = `
<div class="space-y-6">
    <div class="grid grid-cols-1 md:grid-cols-2 lg:grid-cols-4 gap-4">
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Status</p>
            <p class="text-3xl font-bold mt-1 {{if .IsRunning}}text-green-500{{else}}text-red-500{{end}}" id="node-state">{{.NodeStatus}}</p>
        </div>

        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Runs</p>
            <p class="text-3xl font-bold text-white mt-1" id="runs">{{formatNumber .Runs}}</p>
            {{if .RunsPerSec}}<p class="text-sm text-gray-500 mt-1">{{printf "%.1f" .RunsPerSec}} runs/sec</p>{{end}}
        </div>

        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Cache Hits</p>
            <p class="text-3xl font-bold text-white mt-1" id="cache-hits">{{formatNumber .CacheHits}}</p>
            <p class="text-sm text-gray-500 mt-1"><span id="hit-rate">{{printf "%.1f" .HitRate}}</span>% hit rate</p>
        </div>

        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Uptime</p>
            <p class="text-3xl font-bold text-white mt-1" id="uptime">{{formatDuration .Uptime}}</p>
        </div>
    </div>

    <div class="grid grid-cols-1 md:grid-cols-4 gap-4">
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Faults</p>
            <p class="text-2xl font-bold text-white mt-1" id="faults">{{formatNumber .Faults}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Searches</p>
            <p class="text-2xl font-bold text-white mt-1" id="searches">{{formatNumber .Searches}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Instructions Executed</p>
            <p class="text-2xl font-bold text-white mt-1" id="steps-total">{{formatNumber .StepsTotal}}</p>
        </div>
        <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
            <p class="text-gray-400 text-sm font-medium">Cached Results</p>
            <p class="text-2xl font-bold text-white mt-1" id="cached-count">{{formatNumber .CachedCount}}</p>
        </div>
    </div>

    {{if .LastError}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <span class="text-red-200 text-sm">{{.LastError}}</span>
    </div>
    {{end}}

    <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
        <h2 class="text-lg font-semibold text-white mb-4">Image Store</h2>
        <dl class="grid grid-cols-3 gap-4">
            <div><dt class="text-gray-400 text-sm">Images</dt><dd class="text-xl text-white">{{if .ImageCount}}{{formatNumber .ImageCount}}{{else}}0{{end}}</dd></div>
            <div><dt class="text-gray-400 text-sm">Names</dt><dd class="text-xl text-white">{{if .NameCount}}{{formatNumber .NameCount}}{{else}}0{{end}}</dd></div>
            <div><dt class="text-gray-400 text-sm">Database Size</dt><dd class="text-xl text-white">{{if .DatabaseSize}}{{formatBytes .DatabaseSize}}{{else}}-{{end}}</dd></div>
        </dl>
    </div>
</div>
`

const imagesTemplate = `
<div class="space-y-6">
    <h1 class="text-2xl font-bold text-white">Images</h1>

    {{if .Error}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <span class="text-red-200 text-sm">{{.Error}}</span>
    </div>
    {{else if not .Images}}
    <p class="text-gray-400">No images stored yet. Add one with <span class="mono">intcode image put</span>.</p>
    {{else}}
    <div class="bg-gray-800 rounded-lg border border-gray-700 overflow-hidden">
        <table class="min-w-full divide-y divide-gray-700">
            <thead class="bg-gray-900">
                <tr>
                    <th class="px-4 py-3 text-left text-xs font-medium text-gray-400 uppercase">ID</th>
                    <th class="px-4 py-3 text-left text-xs font-medium text-gray-400 uppercase">Name</th>
                    <th class="px-4 py-3 text-right text-xs font-medium text-gray-400 uppercase">Words</th>
                    <th class="px-4 py-3 text-right text-xs font-medium text-gray-400 uppercase">Stored</th>
                    <th class="px-4 py-3 text-left text-xs font-medium text-gray-400 uppercase">Created</th>
                </tr>
            </thead>
            <tbody class="divide-y divide-gray-700">
                {{range .Images}}
                <tr class="hover:bg-gray-700/50">
                    <td class="px-4 py-3 mono text-sm"><a href="/images/{{.ID}}" class="text-blue-400 hover:text-blue-300" title="{{.ID}}">{{.ID.Short}}</a></td>
                    <td class="px-4 py-3 text-sm text-gray-300">{{if .Name}}{{.Name}}{{else}}-{{end}}</td>
                    <td class="px-4 py-3 text-sm text-right text-gray-300">{{formatNumber .Words}}</td>
                    <td class="px-4 py-3 text-sm text-right text-gray-300">{{formatBytes (int64 .Size)}}</td>
                    <td class="px-4 py-3 text-sm text-gray-400">{{formatTime .CreatedAt}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
    </div>
    {{end}}
</div>
`

const imageDetailTemplate = `
<div class="space-y-6">
    <div class="flex items-center space-x-2 text-sm text-gray-400">
        <a href="/images" class="hover:text-white">Images</a>
        <span>/</span>
        <span class="mono">{{.Ref}}</span>
    </div>

    {{if .Error}}
    <div class="bg-red-900/50 border border-red-500 rounded-lg p-4">
        <span class="text-red-200 text-sm">{{.Error}}</span>
    </div>
    {{else}}
    <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
        <dl class="grid grid-cols-1 md:grid-cols-2 gap-4">
            <div><dt class="text-gray-400 text-sm">ID</dt><dd class="mono text-sm text-white break-all">{{.ID}}</dd></div>
            {{with .Meta}}
            <div><dt class="text-gray-400 text-sm">Name</dt><dd class="text-white">{{if .Name}}{{.Name}}{{else}}-{{end}}</dd></div>
            <div><dt class="text-gray-400 text-sm">Stored Size</dt><dd class="text-white">{{formatBytes (int64 .Size)}}</dd></div>
            <div><dt class="text-gray-400 text-sm">Created</dt><dd class="text-white">{{formatTime .CreatedAt}}</dd></div>
            {{end}}
            <div><dt class="text-gray-400 text-sm">Words</dt><dd class="text-white">{{formatNumber .Words}}</dd></div>
        </dl>
    </div>

    <div class="bg-gray-800 rounded-lg p-6 border border-gray-700">
        <h2 class="text-lg font-semibold text-white mb-4">Program</h2>
        <pre class="program mono text-xs text-gray-300">{{.Program}}</pre>
        {{if .Truncated}}<p class="text-sm text-gray-500 mt-2">Showing the first words only.</p>{{end}}
    </div>
    {{end}}
</div>
`

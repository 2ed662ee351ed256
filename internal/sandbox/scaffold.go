package sandbox

import (
	"os"
	"path/filepath"
)

// Seed content written into empty scopes so every dev server has something
// to serve on first boot. Existing files are never touched.
var scaffolds = map[string]string{
	"prototype/index.html": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>DevLabo Prototype</title>
</head>
<body>
    <h1>Hello World</h1>
    <p>Edit this file to start building your prototype.</p>
</body>
</html>
`,
	"frontend/index.html": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>DevLabo Frontend</title>
</head>
<body>
    <div id="app"></div>
    <script type="module" src="src/main.js"></script>
</body>
</html>
`,
	"frontend/src/main.js": `// Frontend entry point
document.getElementById('app').innerHTML = '<h1>Frontend Ready</h1>';
`,
	"dbml/index.html": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>DBML Schema</title>
</head>
<body>
    <h1>Database Schema</h1>
    <p>DBML schema visualization will appear here.</p>
</body>
</html>
`,
	"test-case/index.html": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Test Runner</title>
</head>
<body>
    <h1>Test Runner</h1>
    <p>Vitest UI will run here.</p>
</body>
</html>
`,
}

// writeScaffolds seeds missing scaffold files under root. Scope policy does
// not apply here; the controller owns the workspace it is provisioning.
func writeScaffolds(root string) error {
	for rel, content := range scaffolds {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
			return err
		}
	}
	return nil
}

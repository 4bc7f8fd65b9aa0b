package session

import "pageforge/internal/domain/models"

// StarterSnapshot is the page every fresh session begins from: a minimal
// three-file skeleton the first instruction turns into something real.
func StarterSnapshot() models.FileSnapshot {
	return models.FileSnapshot{
		Markup: starterMarkup,
		Styles: starterStyles,
		Script: starterScript,
	}
}

const starterMarkup = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>New Page</title>
  <link rel="stylesheet" href="styles.css">
</head>
<body>
  <main>
    <h1>New Page</h1>
    <p>Describe what you want this page to become.</p>
  </main>
  <script src="script.js"></script>
</body>
</html>
`

const starterStyles = `:root {
  --fg: #1a1a2e;
  --bg: #ffffff;
}

body {
  margin: 0;
  font-family: system-ui, sans-serif;
  color: var(--fg);
  background: var(--bg);
}

main {
  max-width: 640px;
  margin: 4rem auto;
  padding: 0 1rem;
}
`

const starterScript = `// Page behavior goes here.
`

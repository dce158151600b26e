// Package render draws layout markup into raster images.
//
// The calibration loop only depends on the Renderer interface: a layout
// string goes in, an image comes out. Rendering must be deterministic for a
// given layout and viewport, because the loop compares successive renders.
//
// # Sessions
//
// A Session wraps one Renderer. Render calls on a session are serialized and
// each is followed by a fixed settle delay before the image is handed back.
// Batches that want parallelism take sessions from a Pool; a step never
// moves between sessions mid-loop.
//
// # Markup
//
// ArrayRenderer understands a small array dialect:
//
//	\begin{array}{rcrcr}
//	2x & + & 4 & = & 10 \\
//	 &  & \hspace{-0.800em}-4 &  & \hspace{-0.500em}-4 \\
//	\hline
//	2x &  &  & = & \hspace{0.300em}6
//	\end{array}
//
// Rows are separated by \\ and cells by &. Supported commands are \hline,
// \hspace{Nem}, \underline{...}, \makebox[Nem]{...}, \times and \div.
// Whitespace inside cells is ignored.
package render

package opencv

import (
	"fmt"

	"gocv.io/x/gocv"
)

// QuitKey closes the preview and ends the session.
const QuitKey = 'q'

// Window shows annotated frames. All methods must be called from the
// goroutine that created it.
type Window struct {
	win *gocv.Window
}

// NewWindow opens a preview window titled title.
func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Show decodes jpegData, displays it and polls the keyboard for 1ms.
// It returns true when the quit key was pressed or the window was closed.
func (w *Window) Show(jpegData []byte) (bool, error) {
	img, err := gocv.IMDecode(jpegData, gocv.IMReadColor)
	if err != nil {
		return false, fmt.Errorf("decode preview frame: %w", err)
	}
	defer img.Close()

	if !img.Empty() {
		w.win.IMShow(img)
	}
	key := w.win.WaitKey(1)
	if key == QuitKey || key == 'Q' {
		return true, nil
	}
	return !w.win.IsOpen(), nil
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.win.Close()
}

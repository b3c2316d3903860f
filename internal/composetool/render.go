package composetool

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"

	"github.com/relengtools/composer/internal/models"
)

const (
	// ConfigFileName is the rendered tool configuration
	ConfigFileName = "pungi.conf"

	// VariantsFileName is the rendered variants file for RPM composes
	VariantsFileName = "variants.xml"

	// ModuleVariantsFileName is the rendered variants file for module composes
	ModuleVariantsFileName = "module-variants.xml"
)

// Params is what the tool configuration templates see.
type Params struct {
	// ID names the compose, e.g. "f40-updates-testing"
	ID          string
	Release     *models.Release
	Request     models.UpdateRequest
	ContentType models.ContentType
	Updates     []*models.Update
	// Modules lists "name:stream:version" entries for module composes
	Modules []string
}

// Builds returns the NVRs of every build in the compose.
func (p Params) Builds() []string {
	var out []string
	for _, u := range p.Updates {
		for _, b := range u.Builds {
			out = append(out, b.NVR)
		}
	}
	return out
}

// renderConfig writes the configuration and variants files into a new
// temporary directory and returns it.
func (i *Invoker) renderConfig(p Params) (string, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("composer-pungi-%s-", p.ID))
	if err != nil {
		return "", fmt.Errorf("failed to create configuration directory: %w", err)
	}

	variantsFile := VariantsFileName
	if p.ContentType == models.ContentModule {
		variantsFile = ModuleVariantsFileName
	}

	files := []struct{ template, output string }{
		{i.cfg.GetTemplate(p.ContentType), ConfigFileName},
		{i.cfg.GetVariantsTemplate(p.ContentType), variantsFile},
	}
	for _, f := range files {
		if err := renderTemplate(filepath.Join(i.cfg.TemplateDir, f.template), filepath.Join(dir, f.output), p); err != nil {
			_ = os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

// renderTemplate renders one file. Templates use [[ ]] delimiters so they
// can contain the tool's own brace syntax verbatim.
func renderTemplate(src, dst string, data any) error {
	tmpl, err := template.New(filepath.Base(src)).
		Delims("[[", "]]").
		Funcs(sprig.TxtFuncMap()).
		ParseFiles(src)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", src, err)
	}

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if err := tmpl.Execute(out, data); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to render %s: %w", src, err)
	}
	return out.Close()
}

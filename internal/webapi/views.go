package webapi

import (
	"fmt"

	"image-magic/internal/batch"
	"image-magic/internal/prompt"
)

type settingsView struct {
	Mode         prompt.Mode        `json:"mode"`
	Instruction  string             `json:"instruction"`
	Theme        string             `json:"theme"`
	Style        string             `json:"style"`
	HighQuality  bool               `json:"high_quality"`
	FocusProduct bool               `json:"focus_product"`
	AspectRatio  prompt.AspectRatio `json:"aspect_ratio"`
	Variants     int                `json:"variants"`
	Model        string             `json:"model"`
}

// settingsPatch is the PUT body; absent fields are left unchanged.
type settingsPatch struct {
	Mode         *string `json:"mode"`
	Instruction  *string `json:"instruction"`
	Theme        *string `json:"theme"`
	Style        *string `json:"style"`
	HighQuality  *bool   `json:"high_quality"`
	FocusProduct *bool   `json:"focus_product"`
	AspectRatio  *string `json:"aspect_ratio"`
	Variants     *int    `json:"variants"`
}

type runView struct {
	Mode        prompt.Mode        `json:"mode"`
	AspectRatio prompt.AspectRatio `json:"aspect_ratio"`
	Variants    int                `json:"variants"`
}

type itemView struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Status     batch.Status `json:"status"`
	Error      string       `json:"error,omitempty"`
	ErrorKind  string       `json:"error_kind,omitempty"`
	Attempt    int          `json:"attempt"`
	PreviewURL string       `json:"preview_url"`
	ResultURLs []string     `json:"result_urls,omitempty"`
	Run        *runView     `json:"run,omitempty"`
}

type countsView struct {
	Idle       int `json:"idle"`
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
}

type sessionView struct {
	ID          string       `json:"id"`
	Items       []itemView   `json:"items"`
	Limit       int          `json:"limit"`
	Settings    settingsView `json:"settings"`
	Running     bool         `json:"running"`
	Counts      countsView   `json:"counts"`
	BundleReady bool         `json:"bundle_ready"`
}

type uploadView struct {
	Added   []itemView `json:"added"`
	Dropped int        `json:"dropped"`
	Invalid int        `json:"invalid"`
	Notice  string     `json:"notice,omitempty"`
}

type acceptedView struct {
	Dispatched int `json:"dispatched"`
}

func toSettingsView(st prompt.Settings) settingsView {
	return settingsView{
		Mode:         st.Mode,
		Instruction:  st.Instruction,
		Theme:        st.Theme,
		Style:        st.Style,
		HighQuality:  st.HighQuality,
		FocusProduct: st.FocusProduct,
		AspectRatio:  st.AspectRatio,
		Variants:     st.Variants,
		Model:        prompt.ModelFor(st.HighQuality),
	}
}

func (p settingsPatch) apply(st *prompt.Settings) {
	if p.Mode != nil {
		st.Mode = prompt.Mode(*p.Mode)
	}
	if p.Instruction != nil {
		st.Instruction = *p.Instruction
	}
	if p.Theme != nil {
		st.Theme = *p.Theme
	}
	if p.Style != nil {
		st.Style = *p.Style
	}
	if p.HighQuality != nil {
		st.HighQuality = *p.HighQuality
	}
	if p.FocusProduct != nil {
		st.FocusProduct = *p.FocusProduct
	}
	if p.AspectRatio != nil {
		st.AspectRatio = prompt.AspectRatio(*p.AspectRatio)
	}
	if p.Variants != nil {
		st.Variants = *p.Variants
	}
}

func (p settingsPatch) validate() error {
	if p.Mode != nil {
		if _, ok := prompt.ParseMode(*p.Mode); !ok {
			return fmt.Errorf("unknown mode %q", *p.Mode)
		}
	}
	if p.AspectRatio != nil {
		if _, ok := prompt.ParseAspectRatio(*p.AspectRatio); !ok {
			return fmt.Errorf("unknown aspect ratio %q", *p.AspectRatio)
		}
	}
	if p.Variants != nil && (*p.Variants < prompt.MinVariants || *p.Variants > prompt.MaxVariants) {
		return fmt.Errorf("variants must be between %d and %d", prompt.MinVariants, prompt.MaxVariants)
	}
	return nil
}

func toItemView(sid string, it batch.Item) itemView {
	v := itemView{
		ID:         it.ID,
		Name:       it.Name,
		Status:     it.Status,
		Error:      it.Error,
		ErrorKind:  string(it.ErrorKind),
		Attempt:    it.Attempt,
		PreviewURL: fmt.Sprintf("/api/sessions/%s/items/%s/preview", sid, it.ID),
	}
	for n := range it.Results {
		v.ResultURLs = append(v.ResultURLs, fmt.Sprintf("/api/sessions/%s/items/%s/results/%d", sid, it.ID, n))
	}
	if it.Run != nil {
		v.Run = &runView{Mode: it.Run.Mode, AspectRatio: it.Run.AspectRatio, Variants: it.Run.Variants}
	}
	return v
}

func toSessionView(sid string, limit int, view batch.View) sessionView {
	items := make([]itemView, 0, len(view.Items))
	for _, it := range view.Items {
		items = append(items, toItemView(sid, it))
	}
	return sessionView{
		ID:       sid,
		Items:    items,
		Limit:    limit,
		Settings: toSettingsView(view.Settings),
		Running:  view.Running,
		Counts: countsView{
			Idle:       view.Idle,
			Processing: view.Processing,
			Succeeded:  view.Succeeded,
			Failed:     view.Failed,
		},
		BundleReady: view.BundleReady,
	}
}

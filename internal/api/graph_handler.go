package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/engine"
)

// maxDefinitionSize — предельный размер загружаемого определения.
const maxDefinitionSize = 4 << 20

// ListGraphs возвращает список всех графов.
// GET /api/v1/graphs
func (h *Handler) ListGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := h.graphRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]GraphResponse, len(graphs))
	for i, g := range graphs {
		result[i] = GraphFromDomain(g)
	}

	List(w, result)
}

// UploadGraphs сохраняет новую версию каждого графа определения.
// POST /api/v1/graphs
//
// Тело — определение в JSON или YAML (Content-Type: application/yaml).
// Определение собирается целиком до сохранения: граф с ошибкой
// (дублирующееся ребро, нет Start/End, неизвестный вложенный граф)
// не сохраняется, как и остальные графы того же запроса.
func (h *Handler) UploadGraphs(w http.ResponseWriter, r *http.Request) {
	def, ok := h.readDefinition(w, r)
	if !ok {
		return
	}

	if len(def.Graphs) == 0 {
		BadRequest(w, "definition has no graphs")
		return
	}

	if _, err := engine.Build(def); err != nil {
		InvalidGraph(w, err)
		return
	}

	result := make([]GraphVersionResponse, 0, len(def.Graphs))
	for _, spec := range def.Graphs {
		version, err := h.graphRepo.Save(r.Context(), spec.Name, spec.Description, *def)
		if HandleRepoError(w, h.logger, err, "") {
			return
		}
		h.logger.Info("graph version saved", "graph", spec.Name, "version", version.Version)
		result = append(result, GraphVersionFromDomain(*version, false))
	}

	Created(w, result)
}

// ValidateGraphs проверяет определение без сохранения.
// POST /api/v1/graphs/validate
func (h *Handler) ValidateGraphs(w http.ResponseWriter, r *http.Request) {
	def, ok := h.readDefinition(w, r)
	if !ok {
		return
	}

	lib, err := engine.Build(def)
	if err != nil {
		InvalidGraph(w, err)
		return
	}

	names := make([]string, 0, len(def.Graphs))
	for _, spec := range def.Graphs {
		names = append(names, spec.Name)
	}

	Success(w, ValidateResponse{Graphs: names, Devices: len(lib.Inventory)})
}

// GetGraph возвращает граф по имени.
// GET /api/v1/graphs/{name}
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	graph, err := h.graphRepo.Get(r.Context(), r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "graph not found") {
		return
	}

	Success(w, GraphFromDomain(*graph))
}

// DeleteGraph удаляет граф со всеми версиями.
// DELETE /api/v1/graphs/{name}
func (h *Handler) DeleteGraph(w http.ResponseWriter, r *http.Request) {
	if err := h.graphRepo.Delete(r.Context(), r.PathValue("name")); err != nil {
		HandleRepoError(w, h.logger, err, "graph not found")
		return
	}

	NoContent(w)
}

// ListGraphVersions возвращает версии графа.
// GET /api/v1/graphs/{name}/versions
func (h *Handler) ListGraphVersions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if _, err := h.graphRepo.Get(r.Context(), name); HandleRepoError(w, h.logger, err, "graph not found") {
		return
	}

	versions, err := h.graphRepo.ListVersions(r.Context(), name)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]GraphVersionResponse, len(versions))
	for i, v := range versions {
		result[i] = GraphVersionFromDomain(v, false)
	}

	List(w, result)
}

// GetGraphVersion возвращает версию графа с определением.
// GET /api/v1/graphs/{name}/versions/{version}
//
// version = "latest" возвращает последнюю версию.
func (h *Handler) GetGraphVersion(w http.ResponseWriter, r *http.Request) {
	version := 0
	if v := r.PathValue("version"); v != "latest" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid version")
			return
		}
		version = n
	}

	gv, err := h.graphRepo.GetVersion(r.Context(), r.PathValue("name"), version)
	if HandleRepoError(w, h.logger, err, "graph version not found") {
		return
	}

	Success(w, GraphVersionFromDomain(*gv, true))
}

// readDefinition читает и разбирает определение из тела запроса.
func (h *Handler) readDefinition(w http.ResponseWriter, r *http.Request) (*domain.Definition, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDefinitionSize))
	if err != nil {
		BadRequest(w, fmt.Sprintf("read body: %v", err))
		return nil, false
	}

	def, err := engine.ParseDefinition(data, definitionFormat(r))
	if err != nil {
		BadRequest(w, err.Error())
		return nil, false
	}
	return def, true
}

// definitionFormat определяет формат тела по Content-Type.
func definitionFormat(r *http.Request) string {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return engine.FormatYAML
	}
	return engine.FormatJSON
}

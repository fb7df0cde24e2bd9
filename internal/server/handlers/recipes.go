package handlers

import (
	"fmt"
	"net/http"

	"github.com/forgeml/trainctl/internal/api"
)

// ListRecipes handles POST /api/recipes/list requests.
//
// The optional request body filters recipes by device compatibility:
//
//	{"device_type": "cuda"}
//
// Response: 200 OK with the recipe catalog sorted by ID.
func (h *Handler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.ListRecipesRequest
	if err := h.decodeRequest(r, &req); err != nil {
		h.WriteError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.DeviceType == "" {
		req.DeviceType = api.DeviceTypeAll
	}

	specs := h.manager.Registry().List(req.DeviceType)
	recipes := make([]api.Recipe, 0, len(specs))
	for _, spec := range specs {
		recipes = append(recipes, spec.ToAPI())
	}

	h.WriteJSON(w, api.ListRecipesResponse{Recipes: recipes}, http.StatusOK)
}

// ShowRecipe handles POST /api/recipes/show requests.
//
// Request body:
//
//	{"recipe": "bert-large"}
//
// Response: 200 OK with the full recipe, 404 if unknown.
func (h *Handler) ShowRecipe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.ShowRecipeRequest
	if err := h.decodeRequest(r, &req); err != nil {
		h.WriteError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Recipe == "" {
		h.WriteError(w, "recipe is required", http.StatusBadRequest)
		return
	}

	spec, err := h.manager.Registry().Get(req.Recipe)
	if err != nil {
		h.WriteError(w, err.Error(), http.StatusNotFound)
		return
	}

	h.WriteJSON(w, api.ShowRecipeResponse{Recipe: spec.ToAPI()}, http.StatusOK)
}

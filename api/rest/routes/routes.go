package routes

import (
	"net/http"

	"splat-orchestrator/api/rest/handlers"

	"github.com/gorilla/mux"
)

// Deps are the services the API is served from. Journal may be nil.
type Deps struct {
	Instances handlers.InstanceService
	Trainer   handlers.Trainer
	Journal   handlers.Journal
	Events    handlers.Subscriber
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, deps Deps) {
	instanceHandler := handlers.NewInstanceHandler(deps.Instances)
	trainHandler := handlers.NewTrainHandler(deps.Trainer, deps.Journal)
	streamHandler := handlers.NewStreamHandler(deps.Events)

	// Instance endpoints
	r.HandleFunc("/start_instance", instanceHandler.StartInstance).Methods("POST")
	r.HandleFunc("/stop_instance", instanceHandler.StopInstance).Methods("POST")
	r.HandleFunc("/check_instance", instanceHandler.CheckInstance).Methods("GET")

	// Training endpoints
	r.HandleFunc("/train", trainHandler.Train).Methods("POST")
	r.HandleFunc("/train/{userId}/{projectName}", trainHandler.GetStatus).Methods("GET")
	r.HandleFunc("/train/{userId}/{projectName}", trainHandler.Cancel).Methods("DELETE")
	r.HandleFunc("/train/{userId}/{projectName}/events", trainHandler.GetEvents).Methods("GET")

	// Live status
	r.HandleFunc("/ws", streamHandler.Serve).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
}

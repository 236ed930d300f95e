package src

// Player prefab: 4f1e0c2a9b7d4e3f8a6b5c4d3e2f1a0b
const mainScene = "Assets/Scenes/Main.unity"
